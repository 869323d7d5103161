package collection

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prismsearch/prism/internal/index"
	"github.com/prismsearch/prism/internal/index/match"
	"github.com/prismsearch/prism/internal/index/trie"
	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/pkg/apperr"
)

// MaxResults bounds how deep pagination may reach into the ranked set.
const MaxResults = 500

// snippetStrAboveLen is the tokenized field length above which highlights
// are clipped to a window around the matched tokens.
const snippetStrAboveLen = 30

// snippetContextTokens sets the context of a clipped snippet: it starts this
// many tokens before the first matched token and ends, exclusive, this many
// tokens past the last one (so one fewer token follows the match).
const snippetContextTokens = 5

// SortByField names a sort field and its requested order ("ASC"/"DESC",
// case-insensitive).
type SortByField struct {
	Name  string `json:"name"`
	Order string `json:"order"`
}

// SearchRequest is a validated-on-use search configuration.
type SearchRequest struct {
	Query        string        `json:"q"`
	SearchFields []string      `json:"query_by"`
	FilterQuery  string        `json:"filter_by"`
	FacetFields  []string      `json:"facet_by"`
	SortFields   []SortByField `json:"sort_by"`
	NumTypos     int           `json:"num_typos"`
	PerPage      int           `json:"per_page"`
	Page         int           `json:"page"`
	TokenOrder   string        `json:"token_order"`
	Prefix       bool          `json:"prefix"`
}

// SearchResult is the response envelope: ranked hits for the requested
// page, the total matched count, and per-field facet counts.
type SearchResult struct {
	Hits        []map[string]any `json:"hits"`
	Found       int              `json:"found"`
	FacetCounts []FacetCount     `json:"facet_counts"`
}

// FacetCount lists the top values of one facet field.
type FacetCount struct {
	FieldName string            `json:"field_name"`
	Counts    []FacetValueCount `json:"counts"`
}

// FacetValueCount is one facet value and its occurrence count across the
// matched set.
type FacetValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search validates the request, fans out to every shard, merges and sorts
// the ranked entries, and materializes the requested page with highlights
// and facet counts.
func (c *Collection) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	if req.Page < 1 {
		return nil, apperr.Unprocessable("Page must be an integer of value greater than 0.")
	}
	perPage := req.PerPage
	if perPage < 1 {
		perPage = 10
	}
	if req.Page*perPage > MaxResults {
		return nil, apperr.Unprocessable("Only the first %d results are available.", MaxResults)
	}

	start := time.Now()

	// Fan out read-only searches; each shard fills a local result merged
	// below, so no accumulator is shared across goroutines.
	results := make([]*index.Result, len(c.shards))
	g, _ := errgroup.WithContext(ctx)
	for i, shard := range c.shards {
		g.Go(func() error {
			results[i] = shard.Search(*params)
			return nil
		})
	}
	g.Wait()
	if ctx.Err() != nil {
		// The caller gave up; do not publish partial results.
		return nil, ctx.Err()
	}

	var kvs []index.FieldOrderKV
	var queries [][]*trie.Leaf
	found := 0
	for _, res := range results {
		offset := len(queries)
		queries = append(queries, res.Queries...)
		for _, kv := range res.KVs {
			if kv.Entry.QueryIndex >= 0 {
				kv.Entry.QueryIndex += offset
			}
			kvs = append(kvs, kv)
		}
		found += res.Matched
	}

	// All fields sort descending: better match, higher attributes,
	// earlier search field, newer document.
	sort.Slice(kvs, func(i, j int) bool {
		a, b := kvs[i], kvs[j]
		if a.Entry.MatchScore != b.Entry.MatchScore {
			return a.Entry.MatchScore > b.Entry.MatchScore
		}
		if a.Entry.PrimaryAttr != b.Entry.PrimaryAttr {
			return a.Entry.PrimaryAttr > b.Entry.PrimaryAttr
		}
		if a.Entry.SecondaryAttr != b.Entry.SecondaryAttr {
			return a.Entry.SecondaryAttr > b.Entry.SecondaryAttr
		}
		if a.FieldOrderIndex != b.FieldOrderIndex {
			return a.FieldOrderIndex > b.FieldOrderIndex
		}
		return a.Entry.Key > b.Entry.Key
	})

	// A document that matched several fields contributes one entry per
	// field; the page is sliced over the deduplicated ranking.
	seen := make(map[uint32]struct{}, len(kvs))
	deduped := kvs[:0]
	for _, kv := range kvs {
		if _, dup := seen[kv.Entry.Key]; dup {
			continue
		}
		seen[kv.Entry.Key] = struct{}{}
		deduped = append(deduped, kv)
	}

	result := &SearchResult{
		Hits:        []map[string]any{},
		Found:       found,
		FacetCounts: []FacetCount{},
	}

	startIndex := (req.Page - 1) * perPage
	if startIndex > len(deduped)-1 {
		c.log.Debug("search past end of results", "found", found, "page", req.Page)
		return result, nil
	}
	endIndex := req.Page * perPage
	if endIndex > len(deduped) {
		endIndex = len(deduped)
	}

	for _, kv := range deduped[startIndex:endIndex] {
		doc, err := c.fetchDocument(kv.Entry.Key)
		if err != nil {
			return nil, err
		}
		c.highlight(doc, kv, req.SearchFields, queries)
		result.Hits = append(result.Hits, doc)
	}

	result.FacetCounts = mergeFacets(params.FacetFields, results)

	c.log.Debug("search executed",
		"query", req.Query,
		"found", found,
		"hits", len(result.Hits),
		"took", time.Since(start),
	)
	return result, nil
}

// buildParams validates the request against the schema and lowers it into
// shard search parameters.
func (c *Collection) buildParams(req SearchRequest) (*index.Params, error) {
	if len(req.SearchFields) == 0 {
		return nil, apperr.BadRequest("No fields given to search the query on.")
	}
	for _, name := range req.SearchFields {
		field, ok := c.sch.Search[name]
		if !ok {
			return nil, apperr.BadRequest("Could not find a field named `%s` in the schema.", name)
		}
		if !field.IsString() {
			return nil, apperr.BadRequest("Field `%s` should be a string or a string array.", name)
		}
		if field.Facet {
			return nil, apperr.BadRequest("Field `%s` is a faceted field - it cannot be used as a query field.", name)
		}
	}
	for _, name := range req.FacetFields {
		if _, ok := c.sch.Facet[name]; !ok {
			return nil, apperr.BadRequest("Could not find a facet field named `%s` in the schema.", name)
		}
	}
	sortFields := make([]index.SortBy, 0, len(req.SortFields))
	for _, sf := range req.SortFields {
		if _, ok := c.sch.Sort[sf.Name]; !ok {
			return nil, apperr.BadRequest("Could not find a field named `%s` in the schema for sorting.", sf.Name)
		}
		order := strings.ToUpper(sf.Order)
		if order != "ASC" && order != "DESC" {
			return nil, apperr.BadRequest("Order for field `%s` should be either ASC or DESC.", sf.Name)
		}
		sortFields = append(sortFields, index.SortBy{Name: sf.Name, Desc: order == "DESC"})
	}
	if req.NumTypos < 0 {
		return nil, apperr.BadRequest("Number of typos must not be negative.")
	}
	tokenOrder := index.Frequency
	switch strings.ToUpper(req.TokenOrder) {
	case "", "FREQUENCY":
	case "MAX_SCORE":
		tokenOrder = index.MaxScore
	default:
		return nil, apperr.BadRequest("Token order must be either FREQUENCY or MAX_SCORE.")
	}
	filters, err := index.ParseFilter(req.FilterQuery, c.sch)
	if err != nil {
		return nil, err
	}
	return &index.Params{
		Query:        req.Query,
		SearchFields: req.SearchFields,
		Filters:      filters,
		FacetFields:  req.FacetFields,
		SortFields:   sortFields,
		NumTypos:     req.NumTypos,
		TokenOrder:   tokenOrder,
		Prefix:       req.Prefix,
	}, nil
}

// highlight recomputes the best match window for the hit's field from the
// leaves its query plan touched, wraps the matched tokens in <mark> tags,
// and attaches the snippet under _highlight. Only plain string fields are
// highlighted.
func (c *Collection) highlight(doc map[string]any, kv index.FieldOrderKV,
	searchFields []string, queries [][]*trie.Leaf) {

	if kv.Entry.QueryIndex < 0 || kv.Entry.QueryIndex >= len(queries) {
		return
	}
	fieldName := searchFields[len(searchFields)-kv.FieldOrderIndex]
	if c.sch.Search[fieldName].Type != schema.TypeString {
		return
	}
	value, ok := doc[fieldName].(string)
	if !ok {
		return
	}
	tokens := strings.Fields(value)

	var tokenPositions [][]uint16
	for _, leaf := range queries[kv.Entry.QueryIndex] {
		positions, ok := leaf.Postings.PositionsOf(kv.Entry.Key)
		if !ok {
			continue
		}
		tokenPositions = append(tokenPositions, positions)
	}
	if len(tokenPositions) == 0 {
		return
	}

	mscore := match.Compute(tokenPositions)
	tokenIndices := make([]int, 0, int(mscore.WordsPresent))
	for i := 1; i <= int(mscore.WordsPresent); i++ {
		if mscore.OffsetDiffs[i] != match.NotFound {
			tokenIndices = append(tokenIndices, int(mscore.StartOffset)+int(mscore.OffsetDiffs[i]))
		}
	}
	if len(tokenIndices) == 0 {
		return
	}

	minIndex, maxIndex := tokenIndices[0], tokenIndices[0]
	for _, idx := range tokenIndices[1:] {
		if idx < minIndex {
			minIndex = idx
		}
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	for _, idx := range tokenIndices {
		if idx < len(tokens) {
			tokens[idx] = "<mark>" + tokens[idx] + "</mark>"
		}
	}

	startIndex, endIndex := 0, len(tokens)
	if len(tokens) > snippetStrAboveLen {
		startIndex = minIndex - snippetContextTokens
		if startIndex < 0 {
			startIndex = 0
		}
		endIndex = maxIndex + snippetContextTokens
		if endIndex > len(tokens) {
			endIndex = len(tokens)
		}
	}

	doc["_highlight"] = map[string]any{
		fieldName: strings.Join(tokens[startIndex:endIndex], " "),
	}
}

// mergeFacets combines per-shard facet maps and keeps the ten most frequent
// values per field.
func mergeFacets(facetFields []string, results []*index.Result) []FacetCount {
	out := make([]FacetCount, 0, len(facetFields))
	for _, name := range facetFields {
		totals := make(map[string]int)
		for _, res := range results {
			for value, count := range res.Facets[name] {
				totals[value] += count
			}
		}
		counts := make([]FacetValueCount, 0, len(totals))
		for value, count := range totals {
			counts = append(counts, FacetValueCount{Value: value, Count: count})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return counts[i].Count > counts[j].Count
			}
			return counts[i].Value < counts[j].Value
		})
		if len(counts) > 10 {
			counts = counts[:10]
		}
		out = append(out, FacetCount{FieldName: name, Counts: counts})
	}
	return out
}
