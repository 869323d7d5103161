// Package index implements one shard of a collection: per-field token
// tries with posting lists, forward maps for sorting and faceting, and the
// typo-tolerant search walk that feeds the collection's ranked merge.
package index

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/prismsearch/prism/internal/index/match"
	"github.com/prismsearch/prism/internal/index/topster"
	"github.com/prismsearch/prism/internal/index/trie"
	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/internal/tokenizer"
)

// TokenOrder picks the tiebreak used when expanding fuzzy variants.
type TokenOrder int

const (
	// Frequency prefers variants with longer posting lists.
	Frequency TokenOrder = iota
	// MaxScore prefers variants whose documents carry higher points.
	MaxScore
)

// maxFuzzyCandidates bounds how many trie leaves one query token may expand
// to at a single edit cost.
const maxFuzzyCandidates = 10

// maxQueryPlans bounds how many typo-cost combinations a field search will
// explore before giving up.
const maxQueryPlans = 10

// SortBy names a sort-schema field and its direction.
type SortBy struct {
	Name string
	Desc bool
}

// Params carries a validated search request into a shard.
type Params struct {
	Query        string
	SearchFields []string
	Filters      []FilterClause
	FacetFields  []string
	SortFields   []SortBy
	NumTypos     int
	TokenOrder   TokenOrder
	Prefix       bool
}

// FieldOrderKV pairs a ranked entry with the reverse index of the search
// field that produced it (len(search_fields) - field position), so that
// earlier-listed fields win ties after the composite score.
type FieldOrderKV struct {
	FieldOrderIndex int
	Entry           topster.Entry
}

// Result is the per-shard output of a search, merged by the collection.
type Result struct {
	KVs []FieldOrderKV
	// Queries holds, per local query index, the trie leaves that plan hit.
	Queries [][]*trie.Leaf
	// Matched is the number of distinct documents this shard matched.
	Matched int
	// Facets maps facet field to value counts over the matched set.
	Facets map[string]map[string]int
}

// Shard is one independent index partition of a collection.
type Shard struct {
	mu  sync.RWMutex
	sch *schema.Schema

	// tries maps each searchable string field to its token tree.
	tries map[string]*trie.Tree
	// sortIndex maps sort-schema fields to seq_id -> sortable value
	// (floats pre-encoded via Float32ToSortable).
	sortIndex map[string]map[uint32]int64
	// facetIndex maps facet fields to seq_id -> values.
	facetIndex map[string]map[uint32][]string
	// strValues mirrors string field values per document for filtering.
	strValues map[string]map[uint32][]string
	// numValues mirrors numeric array values per document for filtering.
	numValues map[string]map[uint32][]int64
	// points holds the ranking signal captured at ingest.
	points map[uint32]int32
	// seqIDs is the sorted list of documents present in this shard.
	seqIDs []uint32
}

// NewShard creates an empty shard for the given schema.
func NewShard(sch *schema.Schema) *Shard {
	s := &Shard{
		sch:        sch,
		tries:      make(map[string]*trie.Tree),
		sortIndex:  make(map[string]map[uint32]int64),
		facetIndex: make(map[string]map[uint32][]string),
		strValues:  make(map[string]map[uint32][]string),
		numValues:  make(map[string]map[uint32][]int64),
		points:     make(map[uint32]int32),
	}
	for name, field := range sch.Search {
		if field.IsString() {
			s.tries[name] = trie.New()
			s.strValues[name] = make(map[uint32][]string)
		}
		if field.IsSortable() {
			s.sortIndex[name] = make(map[uint32]int64)
		}
		if field.IsNumeric() && field.IsArray() {
			s.numValues[name] = make(map[uint32][]int64)
		}
	}
	for name := range sch.Facet {
		s.facetIndex[name] = make(map[uint32][]string)
	}
	return s
}

// NumDocuments returns the number of documents indexed in this shard.
func (s *Shard) NumDocuments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seqIDs)
}

// Index inserts a validated document into the shard under seqID. points is
// the ranking signal derived from the collection's token ranking field.
func (s *Shard) Index(doc map[string]any, seqID uint32, points int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, field := range s.sch.Search {
		value := doc[name]
		switch {
		case field.Type == schema.TypeString:
			str := value.(string)
			s.indexString(name, []string{str}, seqID, points)
		case field.Type == schema.TypeStringArray:
			strs := stringSlice(value)
			s.indexString(name, strs, seqID, points)
		case field.IsSortable():
			s.sortIndex[name][seqID] = numericValue(field, value)
		case field.IsNumeric() && field.IsArray():
			elems := value.([]any)
			nums := make([]int64, 0, len(elems))
			for _, elem := range elems {
				nums = append(nums, numericValue(field, elem))
			}
			s.numValues[name][seqID] = nums
		}
	}
	for name := range s.sch.Facet {
		s.facetIndex[name][seqID] = stringSlice(doc[name])
	}
	s.points[seqID] = points
	s.seqIDs = append(s.seqIDs, seqID)
}

// indexString tokenizes the values (an array field concatenates its
// elements into one position space) and extends each term's posting list.
func (s *Shard) indexString(field string, values []string, seqID uint32, points int32) {
	tree := s.tries[field]
	var tokens []tokenizer.Token
	base := uint16(0)
	for _, value := range values {
		part := tokenizer.Tokenize(value, base)
		tokens = append(tokens, part...)
		base += uint16(len(part))
	}
	for term, positions := range tokenizer.Terms(tokens) {
		leaf := tree.Upsert([]byte(term))
		leaf.Postings.Append(seqID, positions)
		if points > leaf.MaxPoints {
			leaf.MaxPoints = points
		}
	}
	s.strValues[field][seqID] = values
}

// Remove deletes the document's terms from every posting list, pruning
// empty trie leaves, and drops it from the forward maps. Removing an
// absent document is a no-op.
func (s *Shard) Remove(seqID uint32, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.seqIDs), func(i int) bool { return s.seqIDs[i] >= seqID })
	if i == len(s.seqIDs) || s.seqIDs[i] != seqID {
		return
	}
	s.seqIDs = append(s.seqIDs[:i], s.seqIDs[i+1:]...)

	for name, field := range s.sch.Search {
		if !field.IsString() {
			delete(s.sortIndex[name], seqID)
			delete(s.numValues[name], seqID)
			continue
		}
		tree := s.tries[name]
		for _, value := range stringSlice(doc[name]) {
			for _, token := range tokenizer.Tokenize(value, 0) {
				leaf := tree.Find([]byte(token.Term))
				if leaf == nil {
					continue
				}
				leaf.Postings.Remove(seqID)
				if leaf.Postings.Len() == 0 {
					tree.Delete([]byte(token.Term))
				}
			}
		}
		delete(s.strValues[name], seqID)
	}
	for name := range s.sch.Facet {
		delete(s.facetIndex[name], seqID)
	}
	delete(s.points, seqID)
}

// Search runs the query against this shard and returns its local ranked
// entries, hit leaves, matched count, and facet counts.
func (s *Shard) Search(p Params) *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &Result{Facets: make(map[string]map[string]int, len(p.FacetFields))}
	for _, name := range p.FacetFields {
		res.Facets[name] = make(map[string]int)
	}
	matched := make(map[uint32]struct{})

	query := strings.TrimSpace(p.Query)
	if query == "" || query == "*" {
		s.searchAll(p, res, matched)
	} else {
		s.searchQuery(query, p, res, matched)
	}

	res.Matched = len(matched)
	for id := range matched {
		for _, name := range p.FacetFields {
			for _, value := range s.facetIndex[name][id] {
				res.Facets[name][value]++
			}
		}
	}
	return res
}

// searchAll handles the match-all query: every document that passes the
// filter is ranked purely on sort attributes. QueryIndex -1 marks entries
// that carry no term positions, so no highlight is attempted.
func (s *Shard) searchAll(p Params, res *Result, matched map[uint32]struct{}) {
	top := topster.New(topster.Capacity)
	for _, id := range s.seqIDs {
		if !s.evalFilters(id, p.Filters) {
			continue
		}
		matched[id] = struct{}{}
		primary, secondary := s.sortAttrs(id, p)
		top.Add(topster.Entry{
			Key:           id,
			QueryIndex:    -1,
			PrimaryAttr:   primary,
			SecondaryAttr: secondary,
		})
	}
	for _, entry := range top.Sorted() {
		res.KVs = append(res.KVs, FieldOrderKV{
			FieldOrderIndex: len(p.SearchFields),
			Entry:           entry,
		})
	}
}

// searchQuery expands each query token into typo variants and explores
// cost combinations from exact upward, per search field, stopping a
// field's exploration once a plan produces candidates.
func (s *Shard) searchQuery(query string, p Params, res *Result, matched map[uint32]struct{}) {
	tokens := tokenizer.Tokenize(query, 0)
	if len(tokens) == 0 {
		return
	}
	for fieldPos, fieldName := range p.SearchFields {
		tree := s.tries[fieldName]
		if tree == nil {
			continue
		}
		candidates := s.tokenCandidates(tree, tokens, p)
		if candidates == nil {
			continue
		}
		top := topster.New(topster.Capacity)
		s.explorePlans(tokens, candidates, p, top, res, matched)
		for _, entry := range top.Sorted() {
			res.KVs = append(res.KVs, FieldOrderKV{
				FieldOrderIndex: len(p.SearchFields) - fieldPos,
				Entry:           entry,
			})
		}
	}
}

// tokenCandidates returns, per query token, its candidate leaves grouped by
// edit cost. A token with no candidates at any allowed cost makes the whole
// field unmatchable (every query token must be present), reported as nil.
func (s *Shard) tokenCandidates(tree *trie.Tree, tokens []tokenizer.Token, p Params) [][][]*trie.Leaf {
	perToken := make([][][]*trie.Leaf, len(tokens))
	for i, token := range tokens {
		prefix := p.Prefix && i == len(tokens)-1
		found := tree.Fuzzy([]byte(token.Term), p.NumTypos, prefix)
		if len(found) == 0 {
			return nil
		}
		byCost := make([][]*trie.Leaf, p.NumTypos+1)
		for _, cand := range found {
			byCost[cand.Cost] = append(byCost[cand.Cost], cand.Leaf)
		}
		for cost := range byCost {
			s.orderCandidates(byCost[cost], p.TokenOrder)
			if len(byCost[cost]) > maxFuzzyCandidates {
				byCost[cost] = byCost[cost][:maxFuzzyCandidates]
			}
		}
		perToken[i] = byCost
	}
	return perToken
}

func (s *Shard) orderCandidates(leaves []*trie.Leaf, order TokenOrder) {
	switch order {
	case MaxScore:
		sort.SliceStable(leaves, func(i, j int) bool {
			return leaves[i].MaxPoints > leaves[j].MaxPoints
		})
	default:
		sort.SliceStable(leaves, func(i, j int) bool {
			return leaves[i].Postings.Len() > leaves[j].Postings.Len()
		})
	}
}

// explorePlans walks typo-cost combinations in ascending total-cost order:
// all tokens exact first, then progressively relaxed. Exploration ends as
// soon as one total-cost tier yields documents, or when the plan budget is
// spent.
func (s *Shard) explorePlans(tokens []tokenizer.Token, candidates [][][]*trie.Leaf,
	p Params, top *topster.Topster, res *Result, matched map[uint32]struct{}) {

	costs := make([]int, len(tokens))
	plansTried := 0
	for total := 0; total <= p.NumTypos*len(tokens); total++ {
		produced := false
		s.enumeratePlans(costs, 0, total, candidates, func() bool {
			plansTried++
			if s.runPlan(costs, candidates, p, top, res, matched) {
				produced = true
			}
			return plansTried < maxQueryPlans
		})
		if produced || plansTried >= maxQueryPlans {
			return
		}
	}
}

// enumeratePlans assigns per-token costs summing to exactly budget,
// invoking fn for each complete assignment until fn returns false.
func (s *Shard) enumeratePlans(costs []int, i int, budget int,
	candidates [][][]*trie.Leaf, fn func() bool) bool {

	if i == len(costs) {
		if budget != 0 {
			return true
		}
		return fn()
	}
	maxCost := len(candidates[i]) - 1
	for c := 0; c <= maxCost && c <= budget; c++ {
		if len(candidates[i][c]) == 0 {
			continue
		}
		costs[i] = c
		if !s.enumeratePlans(costs, i+1, budget-c, candidates, fn) {
			return false
		}
	}
	return true
}

// runPlan intersects the posting ids of the selected variants, filters the
// survivors, scores them, and records the plan's leaves for highlighting.
// Reports whether any document survived.
func (s *Shard) runPlan(costs []int, candidates [][][]*trie.Leaf,
	p Params, top *topster.Topster, res *Result, matched map[uint32]struct{}) bool {

	planLeaves := make([][]*trie.Leaf, len(costs))
	var ids []uint32
	for i, cost := range costs {
		leaves := candidates[i][cost]
		planLeaves[i] = leaves
		tokenIDs := unionIDs(leaves)
		if i == 0 {
			ids = tokenIDs
		} else {
			ids = intersectIDs(ids, tokenIDs)
		}
		if len(ids) == 0 {
			return false
		}
	}

	survivors := ids[:0:0]
	for _, id := range ids {
		if s.evalFilters(id, p.Filters) {
			survivors = append(survivors, id)
		}
	}
	if len(survivors) == 0 {
		return false
	}

	queryIndex := len(res.Queries)
	flat := make([]*trie.Leaf, 0, len(costs))
	for _, leaves := range planLeaves {
		flat = append(flat, leaves...)
	}
	res.Queries = append(res.Queries, flat)

	for _, id := range survivors {
		matched[id] = struct{}{}
		tokenPositions := make([][]uint16, len(planLeaves))
		for i, leaves := range planLeaves {
			for _, leaf := range leaves {
				if positions, ok := leaf.Postings.PositionsOf(id); ok {
					tokenPositions[i] = positions
					break
				}
			}
		}
		score := match.Compute(tokenPositions)
		primary, secondary := s.sortAttrs(id, p)
		top.Add(topster.Entry{
			Key:           id,
			QueryIndex:    queryIndex,
			MatchScore:    score.Rank(),
			PrimaryAttr:   primary,
			SecondaryAttr: secondary,
		})
	}
	return true
}

// sortAttrs resolves the ranking attributes: declared sort fields first
// (negated for ascending order, since the final merge sorts descending),
// falling back to the ingest-time points signal.
func (s *Shard) sortAttrs(id uint32, p Params) (int64, int64) {
	if len(p.SortFields) == 0 {
		return int64(s.points[id]), 0
	}
	primary := s.sortValue(p.SortFields[0], id)
	secondary := int64(0)
	if len(p.SortFields) > 1 {
		secondary = s.sortValue(p.SortFields[1], id)
	}
	return primary, secondary
}

func (s *Shard) sortValue(sb SortBy, id uint32) int64 {
	v := s.sortIndex[sb.Name][id]
	if sb.Desc {
		return v
	}
	return -v
}

// evalFilters applies every clause; all must hold.
func (s *Shard) evalFilters(id uint32, clauses []FilterClause) bool {
	for _, clause := range clauses {
		if !s.evalFilter(id, clause) {
			return false
		}
	}
	return true
}

func (s *Shard) evalFilter(id uint32, clause FilterClause) bool {
	field := clause.Field
	switch {
	case field.IsString():
		for _, v := range s.strValues[field.Name][id] {
			if v == clause.StrValue {
				return true
			}
		}
		return false
	case field.IsArray():
		for _, v := range s.numValues[field.Name][id] {
			if compareOp(v, clause.Op, clause.NumValue) {
				return true
			}
		}
		return false
	default:
		v, ok := s.sortIndex[field.Name][id]
		if !ok {
			return false
		}
		return compareOp(v, clause.Op, clause.NumValue)
	}
}

// unionIDs merges the sorted id lists of several leaves into one sorted,
// deduplicated list.
func unionIDs(leaves []*trie.Leaf) []uint32 {
	switch len(leaves) {
	case 0:
		return nil
	case 1:
		return leaves[0].Postings.IDs()
	}
	var out []uint32
	for _, leaf := range leaves {
		out = mergeIDs(out, leaf.Postings.IDs())
	}
	return out
}

func mergeIDs(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func intersectIDs(a, b []uint32) []uint32 {
	out := make([]uint32, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// stringSlice projects a validated string or string-array JSON value.
func stringSlice(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			out = append(out, elem.(string))
		}
		return out
	}
	return nil
}

// numericValue projects a validated JSON number into the sortable space:
// raw for integer fields, order-preserving encoding for float fields.
func numericValue(field schema.Field, value any) int64 {
	n := value.(json.Number)
	switch field.Type {
	case schema.TypeFloat, schema.TypeFloatArray:
		f, _ := n.Float64()
		return int64(Float32ToSortable(float32(f)))
	default:
		v, _ := n.Int64()
		return v
	}
}
