package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/internal/store"
	"github.com/prismsearch/prism/pkg/apperr"
)

func newTestCollection(t *testing.T, fields []schema.Field, rankingField string) (*Collection, store.Store) {
	t.Helper()
	st := store.NewMemory()
	coll, err := New("books", 1, 0, st, fields, rankingField, DefaultNumShards)
	if err != nil {
		t.Fatalf("creating collection: %v", err)
	}
	return coll, st
}

func titlePointsFields() []schema.Field {
	return []schema.Field{
		{Name: "title", Type: schema.TypeString},
		{Name: "points", Type: schema.TypeInt32},
	}
}

func mustAdd(t *testing.T, coll *Collection, doc string) string {
	t.Helper()
	id, err := coll.Add(doc)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	return id
}

func search(t *testing.T, coll *Collection, req SearchRequest) *SearchResult {
	t.Helper()
	result, err := coll.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	return result
}

func hitID(hit map[string]any) string {
	id, _ := hit["id"].(string)
	return id
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error")
	}
	return apperr.StatusCode(err)
}

// Scenario: ranked exact search with token ranking field and highlight.
func TestSearchRankingAndHighlight(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "points")
	first := mustAdd(t, coll, `{"title":"The Hunger Games","points":100}`)
	second := mustAdd(t, coll, `{"title":"Hunger Pain","points":50}`)

	result := search(t, coll, SearchRequest{
		Query:        "hunger",
		SearchFields: []string{"title"},
		NumTypos:     0,
		PerPage:      10,
		Page:         1,
	})
	if result.Found != 2 {
		t.Fatalf("expected found=2, got %d", result.Found)
	}
	if len(result.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(result.Hits))
	}
	if hitID(result.Hits[0]) != first || hitID(result.Hits[1]) != second {
		t.Fatalf("expected higher points first, got %s then %s",
			hitID(result.Hits[0]), hitID(result.Hits[1]))
	}

	highlight, ok := result.Hits[0]["_highlight"].(map[string]any)
	if !ok {
		t.Fatalf("expected _highlight on the first hit")
	}
	if highlight["title"] != "The <mark>Hunger</mark> Games" {
		t.Fatalf("highlight wrong: %q", highlight["title"])
	}
}

// Scenario: typo tolerance bounded by num_typos.
func TestSearchTypoTolerance(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "points")
	mustAdd(t, coll, `{"title":"The Hunger Games","points":100}`)
	mustAdd(t, coll, `{"title":"Hunger Pain","points":50}`)

	req := SearchRequest{
		Query:        "huger",
		SearchFields: []string{"title"},
		NumTypos:     1,
		PerPage:      10,
		Page:         1,
	}
	if result := search(t, coll, req); result.Found != 2 {
		t.Fatalf("expected both docs via one typo, got %d", result.Found)
	}

	req.NumTypos = 0
	if result := search(t, coll, req); result.Found != 0 {
		t.Fatalf("expected no exact match for misspelling, got %d", result.Found)
	}
}

// Scenario: match-all with facet counts.
func TestSearchFacets(t *testing.T) {
	coll, _ := newTestCollection(t, []schema.Field{
		{Name: "title", Type: schema.TypeString},
		{Name: "tags", Type: schema.TypeStringArray, Facet: true},
	}, "")
	mustAdd(t, coll, `{"title":"A","tags":["x","y"]}`)
	mustAdd(t, coll, `{"title":"B","tags":["x"]}`)

	result := search(t, coll, SearchRequest{
		Query:        "*",
		SearchFields: []string{"title"},
		FacetFields:  []string{"tags"},
		PerPage:      10,
		Page:         1,
	})
	if result.Found != 2 {
		t.Fatalf("expected found=2, got %d", result.Found)
	}
	if len(result.FacetCounts) != 1 || result.FacetCounts[0].FieldName != "tags" {
		t.Fatalf("facet counts missing: %+v", result.FacetCounts)
	}
	counts := result.FacetCounts[0].Counts
	if len(counts) != 2 ||
		counts[0].Value != "x" || counts[0].Count != 2 ||
		counts[1].Value != "y" || counts[1].Count != 1 {
		t.Fatalf("facet values wrong: %+v", counts)
	}
}

// Scenario: get, remove, and never-reused sequence ids.
func TestAddGetRemoveLifecycle(t *testing.T) {
	coll, st := newTestCollection(t, titlePointsFields(), "")
	id := mustAdd(t, coll, `{"id":"abc","title":"Gone With The Wind","points":5}`)
	if id != "abc" {
		t.Fatalf("expected caller id to be preserved, got %s", id)
	}

	doc, err := coll.Get("abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc["title"] != "Gone With The Wind" || doc["id"] != "abc" {
		t.Fatalf("stored document mangled: %v", doc)
	}

	// The id mapping holds the decimal seq id; the raw doc sits under the
	// big-endian seq key.
	value, status, _ := st.Get(docIDKey(coll.ID(), "abc"))
	if status != store.StatusFound || string(value) != "0" {
		t.Fatalf("doc id mapping wrong: %q", value)
	}
	if _, status, _ = st.Get(seqIDKey(coll.ID(), 0)); status != store.StatusFound {
		t.Fatalf("raw document missing from store")
	}

	if err := coll.Remove("abc", true); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := coll.Get("abc"); statusOf(t, err) != 404 {
		t.Fatalf("expected 404 after removal")
	}
	if coll.NumDocuments() != 0 {
		t.Fatalf("expected 0 documents, got %d", coll.NumDocuments())
	}

	// A later add must not reuse the removed doc's sequence id.
	next := mustAdd(t, coll, `{"title":"Later","points":1}`)
	if next == "0" {
		t.Fatalf("sequence id was reused for %s", next)
	}
	if next != "1" {
		t.Fatalf("expected synthesized id 1, got %s", next)
	}
}

// Scenario: float sort field ordering.
func TestSearchSortByFloat(t *testing.T) {
	coll, _ := newTestCollection(t, []schema.Field{
		{Name: "name", Type: schema.TypeString},
		{Name: "rating", Type: schema.TypeFloat},
	}, "")
	ratings := []string{"1.5", "-2.0", "3.25", "0.0"}
	for i, r := range ratings {
		mustAdd(t, coll, fmt.Sprintf(`{"name":"doc %d","rating":%s}`, i, r))
	}

	result := search(t, coll, SearchRequest{
		Query:        "*",
		SearchFields: []string{"name"},
		SortFields:   []SortByField{{Name: "rating", Order: "DESC"}},
		PerPage:      10,
		Page:         1,
	})
	var got []string
	for _, hit := range result.Hits {
		got = append(got, hit["rating"].(interface{ String() string }).String())
	}
	want := []string{"3.25", "1.5", "0.0", "-2.0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("descending rating order wrong: %v", got)
		}
	}

	result = search(t, coll, SearchRequest{
		Query:        "*",
		SearchFields: []string{"name"},
		SortFields:   []SortByField{{Name: "rating", Order: "asc"}},
		PerPage:      10,
		Page:         1,
	})
	if result.Hits[0]["rating"].(interface{ String() string }).String() != "-2.0" {
		t.Fatalf("ascending sort broken")
	}
}

// Scenario: paging past the end of the result set.
func TestSearchPagePastEnd(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "")
	for i := 0; i < 5; i++ {
		mustAdd(t, coll, fmt.Sprintf(`{"title":"common doc %d","points":%d}`, i, i))
	}
	result := search(t, coll, SearchRequest{
		Query:        "common",
		SearchFields: []string{"title"},
		PerPage:      10,
		Page:         3,
	})
	if result.Found != 5 {
		t.Fatalf("found must be page-independent, got %d", result.Found)
	}
	if len(result.Hits) != 0 {
		t.Fatalf("expected empty page, got %d hits", len(result.Hits))
	}
	if result.FacetCounts == nil {
		t.Fatalf("facet_counts must be present (empty), got nil")
	}
}

func TestSearchPagination(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "points")
	for i := 0; i < 5; i++ {
		mustAdd(t, coll, fmt.Sprintf(`{"title":"common doc %d","points":%d}`, i, i))
	}
	page1 := search(t, coll, SearchRequest{
		Query: "common", SearchFields: []string{"title"}, PerPage: 2, Page: 1,
	})
	page2 := search(t, coll, SearchRequest{
		Query: "common", SearchFields: []string{"title"}, PerPage: 2, Page: 2,
	})
	if len(page1.Hits) != 2 || len(page2.Hits) != 2 {
		t.Fatalf("expected 2 hits per page, got %d and %d", len(page1.Hits), len(page2.Hits))
	}
	// Points descending: 4,3 then 2,1.
	if hitID(page1.Hits[0]) == hitID(page2.Hits[0]) {
		t.Fatalf("pages overlap")
	}
	if page1.Found != 5 || page2.Found != 5 {
		t.Fatalf("found must not depend on pagination")
	}
}

func TestValidationErrors(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "points")

	cases := []struct {
		name string
		doc  string
	}{
		{"malformed json", `{"title": `},
		{"missing field", `{"title":"no points here"}`},
		{"wrong type", `{"title":42,"points":1}`},
		{"float for int32", `{"title":"x","points":1.5}`},
		{"int32 overflow", `{"title":"x","points":2147483648}`},
		{"non-string id", `{"id":7,"title":"x","points":1}`},
	}
	for _, tc := range cases {
		_, err := coll.Add(tc.doc)
		if statusOf(t, err) != 400 {
			t.Fatalf("%s: expected 400, got %v", tc.name, err)
		}
	}
	if coll.NumDocuments() != 0 {
		t.Fatalf("failed adds must not change document count")
	}
}

func TestSearchRequestValidation(t *testing.T) {
	coll, _ := newTestCollection(t, []schema.Field{
		{Name: "title", Type: schema.TypeString},
		{Name: "tags", Type: schema.TypeStringArray, Facet: true},
		{Name: "points", Type: schema.TypeInt32},
	}, "")
	mustAdd(t, coll, `{"title":"x","tags":["t"],"points":1}`)

	cases := []struct {
		name string
		req  SearchRequest
		code int
	}{
		{"empty search fields", SearchRequest{Query: "x", Page: 1}, 400},
		{"unknown search field", SearchRequest{Query: "x", SearchFields: []string{"nope"}, Page: 1}, 400},
		{"numeric search field", SearchRequest{Query: "x", SearchFields: []string{"points"}, Page: 1}, 400},
		{"facet as search field", SearchRequest{Query: "x", SearchFields: []string{"tags"}, Page: 1}, 400},
		{"unknown facet field", SearchRequest{Query: "x", SearchFields: []string{"title"}, FacetFields: []string{"title"}, Page: 1}, 400},
		{"unknown sort field", SearchRequest{Query: "x", SearchFields: []string{"title"}, SortFields: []SortByField{{Name: "title", Order: "DESC"}}, Page: 1}, 400},
		{"bad sort order", SearchRequest{Query: "x", SearchFields: []string{"title"}, SortFields: []SortByField{{Name: "points", Order: "sideways"}}, Page: 1}, 400},
		{"negative typos", SearchRequest{Query: "x", SearchFields: []string{"title"}, NumTypos: -1, Page: 1}, 400},
		{"bad token order", SearchRequest{Query: "x", SearchFields: []string{"title"}, TokenOrder: "RANDOM", Page: 1}, 400},
		{"page zero", SearchRequest{Query: "x", SearchFields: []string{"title"}, Page: 0}, 422},
		{"page beyond cap", SearchRequest{Query: "x", SearchFields: []string{"title"}, PerPage: 100, Page: 6}, 422},
		{"bad filter", SearchRequest{Query: "x", SearchFields: []string{"title"}, FilterQuery: "nope:1", Page: 1}, 400},
	}
	for _, tc := range cases {
		_, err := coll.Search(context.Background(), tc.req)
		if statusOf(t, err) != tc.code {
			t.Fatalf("%s: expected %d, got %v", tc.name, tc.code, err)
		}
	}
}

func TestSearchFilterQuery(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "")
	mustAdd(t, coll, `{"title":"cheap book","points":10}`)
	mustAdd(t, coll, `{"title":"pricey book","points":90}`)

	result := search(t, coll, SearchRequest{
		Query:        "book",
		SearchFields: []string{"title"},
		FilterQuery:  "points:>50",
		PerPage:      10,
		Page:         1,
	})
	if result.Found != 1 || result.Hits[0]["title"] != "pricey book" {
		t.Fatalf("filter query wrong: found=%d", result.Found)
	}
}

func TestHighlightWithTypo(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "")
	mustAdd(t, coll, `{"title":"The Hunger Games","points":1}`)

	result := search(t, coll, SearchRequest{
		Query:        "huger",
		SearchFields: []string{"title"},
		NumTypos:     1,
		PerPage:      10,
		Page:         1,
	})
	if result.Found != 1 {
		t.Fatalf("expected typo match, got %d", result.Found)
	}
	highlight := result.Hits[0]["_highlight"].(map[string]any)
	if highlight["title"] != "The <mark>Hunger</mark> Games" {
		t.Fatalf("typo highlight wrong: %q", highlight["title"])
	}
}

func TestHighlightSnippetWindow(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "")
	words := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	words[40] = "needle"
	mustAdd(t, coll, fmt.Sprintf(`{"title":"%s","points":1}`, strings.Join(words, " ")))

	result := search(t, coll, SearchRequest{
		Query:        "needle",
		SearchFields: []string{"title"},
		PerPage:      10,
		Page:         1,
	})
	highlight := result.Hits[0]["_highlight"].(map[string]any)
	snippet := highlight["title"].(string)
	tokens := strings.Fields(snippet)
	// Five context tokens before the match, four after (end is exclusive).
	if len(tokens) != 10 {
		t.Fatalf("expected a 10-token snippet, got %d: %q", len(tokens), snippet)
	}
	if tokens[0] != "w35" || tokens[5] != "<mark>needle</mark>" {
		t.Fatalf("snippet window misplaced: %q", snippet)
	}
}

func TestNumDocumentsMatchesStoreEntries(t *testing.T) {
	coll, st := newTestCollection(t, titlePointsFields(), "")
	for i := 0; i < 6; i++ {
		mustAdd(t, coll, fmt.Sprintf(`{"title":"doc %d","points":%d}`, i, i))
	}
	coll.Remove("2", true)
	coll.Remove("4", true)

	count := 0
	prefix := []byte(fmt.Sprintf("%d_$DI_", coll.ID()))
	st.Scan(prefix, func(key, value []byte) error {
		count++
		return nil
	})
	if coll.NumDocuments() != 4 || count != 4 {
		t.Fatalf("doc count drifted: collection=%d store=%d", coll.NumDocuments(), count)
	}
}

// failingStore wraps a Store and fails Insert for matching keys, to force
// the post-index rollback path.
type failingStore struct {
	store.Store
	failSubstring string
}

func (f *failingStore) Insert(key []byte, value []byte) error {
	if strings.Contains(string(key), f.failSubstring) {
		return errors.New("disk full")
	}
	return f.Store.Insert(key, value)
}

func TestAddRollsBackOnStoreFailure(t *testing.T) {
	st := &failingStore{Store: store.NewMemory(), failSubstring: "$SI"}
	coll, err := New("books", 1, 0, st, titlePointsFields(), "", DefaultNumShards)
	if err != nil {
		t.Fatalf("creating collection: %v", err)
	}

	_, err = coll.Add(`{"title":"doomed","points":1}`)
	if statusOf(t, err) != 500 {
		t.Fatalf("expected 500 on store failure, got %v", err)
	}
	if coll.NumDocuments() != 0 {
		t.Fatalf("in-memory insert must be rolled back")
	}
	result := search(t, coll, SearchRequest{
		Query:        "doomed",
		SearchFields: []string{"title"},
		PerPage:      10,
		Page:         1,
	})
	if result.Found != 0 {
		t.Fatalf("no partial shard state may remain, found %d", result.Found)
	}
	if _, gerr := coll.Get("0"); statusOf(t, gerr) != 404 {
		t.Fatalf("doc id mapping must not survive the rollback")
	}
}

func TestSearchDeterministic(t *testing.T) {
	coll, _ := newTestCollection(t, titlePointsFields(), "points")
	for i := 0; i < 20; i++ {
		mustAdd(t, coll, fmt.Sprintf(`{"title":"shared term doc %d","points":%d}`, i, i%5))
	}
	req := SearchRequest{
		Query:        "shared term",
		SearchFields: []string{"title"},
		PerPage:      20,
		Page:         1,
	}
	baseline := search(t, coll, req)
	for run := 0; run < 5; run++ {
		again := search(t, coll, req)
		if again.Found != baseline.Found || len(again.Hits) != len(baseline.Hits) {
			t.Fatalf("result shape changed between runs")
		}
		for i := range baseline.Hits {
			if hitID(again.Hits[i]) != hitID(baseline.Hits[i]) {
				t.Fatalf("run %d: hit order changed at %d", run, i)
			}
		}
	}
}
