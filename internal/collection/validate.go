package collection

import (
	"encoding/json"
	"math"

	"github.com/prismsearch/prism/internal/index"
	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/pkg/apperr"
)

// validateDocument checks the document against the search and facet
// schemas: every declared field present and type-correct, facet fields
// string-shaped, and the token ranking field numeric and in range.
func (c *Collection) validateDocument(doc map[string]any) error {
	if c.tokenRankingField != "" {
		value, present := doc[c.tokenRankingField]
		if !present {
			return apperr.BadRequest("Field `%s` has been declared as a token ranking field, but is not found in the document.", c.tokenRankingField)
		}
		n, isNum := value.(json.Number)
		if !isNum {
			return apperr.BadRequest("Token ranking field `%s` must be a number.", c.tokenRankingField)
		}
		if isIntegral(n) {
			if v, _ := n.Int64(); v > math.MaxInt32 {
				return apperr.BadRequest("Token ranking field `%s` exceeds maximum value of int32.", c.tokenRankingField)
			}
		} else if f, err := n.Float64(); err == nil && f > math.MaxFloat32 {
			return apperr.BadRequest("Token ranking field `%s` exceeds maximum value of a float.", c.tokenRankingField)
		}
	}

	for name, field := range c.sch.Search {
		value, present := doc[name]
		if !present {
			return apperr.BadRequest("Field `%s` has been declared in the schema, but is not found in the document.", name)
		}
		if err := validateValue(name, field, value); err != nil {
			return err
		}
	}

	for name, field := range c.sch.Facet {
		value := doc[name]
		switch field.Type {
		case schema.TypeString:
			if _, ok := value.(string); !ok {
				return apperr.BadRequest("Facet field `%s` must be a string.", name)
			}
		case schema.TypeStringArray:
			if !isStringArray(value) {
				return apperr.BadRequest("Facet field `%s` must be a string array.", name)
			}
		default:
			return apperr.BadRequest("Facet field `%s` must be a string or a string[].", name)
		}
	}
	return nil
}

func validateValue(name string, field schema.Field, value any) error {
	switch field.Type {
	case schema.TypeString:
		if _, ok := value.(string); !ok {
			return apperr.BadRequest("Field `%s` must be a string.", name)
		}
	case schema.TypeInt32:
		n, ok := value.(json.Number)
		if !ok || !isIntegral(n) {
			return apperr.BadRequest("Field `%s` must be an int32.", name)
		}
		if v, _ := n.Int64(); v > math.MaxInt32 {
			return apperr.BadRequest("Field `%s` exceeds maximum value of int32.", name)
		}
	case schema.TypeInt64:
		n, ok := value.(json.Number)
		if !ok || !isIntegral(n) {
			return apperr.BadRequest("Field `%s` must be an int64.", name)
		}
	case schema.TypeFloat:
		if _, ok := value.(json.Number); !ok {
			// An integer is also accepted for a float field.
			return apperr.BadRequest("Field `%s` must be a float.", name)
		}
	case schema.TypeStringArray:
		if !isStringArray(value) {
			return apperr.BadRequest("Field `%s` must be a string array.", name)
		}
	case schema.TypeInt32Array:
		elems, ok := value.([]any)
		if !ok {
			return apperr.BadRequest("Field `%s` must be an int32 array.", name)
		}
		for _, elem := range elems {
			n, ok := elem.(json.Number)
			if !ok || !isIntegral(n) {
				return apperr.BadRequest("Field `%s` must be an int32 array.", name)
			}
			if v, _ := n.Int64(); v > math.MaxInt32 {
				return apperr.BadRequest("Field `%s` exceeds maximum value of int32.", name)
			}
		}
	case schema.TypeInt64Array:
		elems, ok := value.([]any)
		if !ok {
			return apperr.BadRequest("Field `%s` must be an int64 array.", name)
		}
		for _, elem := range elems {
			n, ok := elem.(json.Number)
			if !ok || !isIntegral(n) {
				return apperr.BadRequest("Field `%s` must be an int64 array.", name)
			}
		}
	case schema.TypeFloatArray:
		elems, ok := value.([]any)
		if !ok {
			return apperr.BadRequest("Field `%s` must be a float array.", name)
		}
		for _, elem := range elems {
			if _, ok := elem.(json.Number); !ok {
				return apperr.BadRequest("Field `%s` must be a float array.", name)
			}
		}
	}
	return nil
}

// computePoints derives the ranking signal from the token ranking field:
// zero when unset, the integer value when the JSON number is integral, and
// the order-preserving int32 encoding otherwise. The choice follows the
// value, not the declared field type.
func (c *Collection) computePoints(doc map[string]any) int32 {
	if c.tokenRankingField == "" {
		return 0
	}
	n, ok := doc[c.tokenRankingField].(json.Number)
	if !ok {
		return 0
	}
	if isIntegral(n) {
		v, _ := n.Int64()
		return int32(v)
	}
	f, _ := n.Float64()
	return index.Float32ToSortable(float32(f))
}

func isIntegral(n json.Number) bool {
	_, err := n.Int64()
	return err == nil
}

func isStringArray(value any) bool {
	elems, ok := value.([]any)
	if !ok {
		return false
	}
	for _, elem := range elems {
		if _, ok := elem.(string); !ok {
			return false
		}
	}
	return true
}
