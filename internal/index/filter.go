package index

import (
	"strconv"
	"strings"

	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/pkg/apperr"
)

// FilterOp enumerates the comparison operators of the filter grammar.
type FilterOp int

const (
	OpEqual FilterOp = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

// FilterClause is one parsed `field <op> value` predicate. Numeric operands
// are pre-converted (and, for float fields, pre-encoded) so evaluation is a
// plain integer comparison per candidate.
type FilterClause struct {
	Field    schema.Field
	Op       FilterOp
	StrValue string
	NumValue int64
}

// ParseFilter parses the simple filter grammar:
//
//	field:value && count:>10 && rating:<=4.5
//
// String fields support only `:` (equality; any-of for arrays). Numeric
// single-valued fields additionally support <, <=, >, >=, = and !=; numeric
// arrays support any-of equality. Unknown fields or operators fail with 400.
func ParseFilter(raw string, sch *schema.Schema) ([]FilterClause, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "&&")
	clauses := make([]FilterClause, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		sep := strings.Index(part, ":")
		if sep <= 0 {
			return nil, apperr.BadRequest("Filter clause `%s` must be of the form field:value.", part)
		}
		name := strings.TrimSpace(part[:sep])
		value := strings.TrimSpace(part[sep+1:])
		field, ok := sch.Search[name]
		if !ok {
			return nil, apperr.BadRequest("Could not find a filter field named `%s` in the schema.", name)
		}

		op := OpEqual
		if field.IsNumeric() {
			switch {
			case strings.HasPrefix(value, ">="):
				op, value = OpGreaterEqual, value[2:]
			case strings.HasPrefix(value, "<="):
				op, value = OpLessEqual, value[2:]
			case strings.HasPrefix(value, "!="):
				op, value = OpNotEqual, value[2:]
			case strings.HasPrefix(value, ">"):
				op, value = OpGreater, value[1:]
			case strings.HasPrefix(value, "<"):
				op, value = OpLess, value[1:]
			case strings.HasPrefix(value, "="):
				op, value = OpEqual, value[1:]
			}
			if field.IsArray() && op != OpEqual {
				return nil, apperr.BadRequest("Array field `%s` only supports the `:` (any-of) operator.", name)
			}
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, apperr.BadRequest("Filter clause for field `%s` has an empty value.", name)
		}

		clause := FilterClause{Field: field, Op: op, StrValue: value}
		if field.IsNumeric() {
			num, err := parseNumericOperand(field, value)
			if err != nil {
				return nil, apperr.BadRequest("Filter value `%s` is not valid for field `%s`.", value, name)
			}
			clause.NumValue = num
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

func parseNumericOperand(field schema.Field, value string) (int64, error) {
	switch field.Type {
	case schema.TypeFloat, schema.TypeFloatArray:
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return 0, err
		}
		return int64(Float32ToSortable(float32(f))), nil
	default:
		return strconv.ParseInt(value, 10, 64)
	}
}

func compareOp(v int64, op FilterOp, operand int64) bool {
	switch op {
	case OpEqual:
		return v == operand
	case OpNotEqual:
		return v != operand
	case OpLess:
		return v < operand
	case OpLessEqual:
		return v <= operand
	case OpGreater:
		return v > operand
	case OpGreaterEqual:
		return v >= operand
	}
	return false
}
