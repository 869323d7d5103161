package trie

import (
	"sort"
	"testing"
)

func insertTerms(t *testing.T, tree *Tree, terms ...string) {
	t.Helper()
	for i, term := range terms {
		leaf := tree.Upsert([]byte(term))
		if leaf == nil {
			t.Fatalf("upsert %q returned nil", term)
		}
		leaf.Postings.Append(uint32(i), []uint16{0})
	}
}

func candidateTerms(candidates []Candidate) []string {
	terms := make([]string, 0, len(candidates))
	for _, c := range candidates {
		terms = append(terms, string(c.Leaf.Term))
	}
	sort.Strings(terms)
	return terms
}

func TestUpsertAndFind(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "hunger", "hung", "hunt", "games")

	if tree.NumTerms() != 4 {
		t.Fatalf("expected 4 terms, got %d", tree.NumTerms())
	}
	for _, term := range []string{"hunger", "hung", "hunt", "games"} {
		leaf := tree.Find([]byte(term))
		if leaf == nil {
			t.Fatalf("expected to find %q", term)
		}
		if string(leaf.Term) != term {
			t.Fatalf("leaf term mismatch: %q vs %q", leaf.Term, term)
		}
	}
	if tree.Find([]byte("hun")) != nil {
		t.Fatalf("interior prefix must not resolve to a leaf")
	}
	if tree.Find([]byte("hungerx")) != nil {
		t.Fatalf("over-long term must not resolve")
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	tree := New()
	first := tree.Upsert([]byte("alpha"))
	second := tree.Upsert([]byte("alpha"))
	if first != second {
		t.Fatalf("upsert of an existing term must return the same leaf")
	}
	if tree.NumTerms() != 1 {
		t.Fatalf("expected 1 term, got %d", tree.NumTerms())
	}
}

func TestWalkAscendingOrder(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "pear", "apple", "plum", "peach", "apricot")
	var got []string
	tree.Walk(func(leaf *Leaf) bool {
		got = append(got, string(leaf.Term))
		return true
	})
	want := []string{"apple", "apricot", "peach", "pear", "plum"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("walk order wrong: expected %v, got %v", want, got)
		}
	}
}

func TestDeletePrunesAndMerges(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "hunger", "hung", "hunt")

	if !tree.Delete([]byte("hung")) {
		t.Fatalf("expected hung to be deleted")
	}
	if tree.Delete([]byte("hung")) {
		t.Fatalf("second delete must report absence")
	}
	if tree.NumTerms() != 2 {
		t.Fatalf("expected 2 terms, got %d", tree.NumTerms())
	}
	if tree.Find([]byte("hunger")) == nil || tree.Find([]byte("hunt")) == nil {
		t.Fatalf("sibling terms lost after delete")
	}

	tree.Delete([]byte("hunger"))
	tree.Delete([]byte("hunt"))
	if tree.NumTerms() != 0 {
		t.Fatalf("expected empty tree, got %d terms", tree.NumTerms())
	}
	if got := tree.Fuzzy([]byte("hunt"), 2, false); len(got) != 0 {
		t.Fatalf("fuzzy on empty tree returned %v", got)
	}
}

func TestFuzzyExact(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "hunger", "hanger", "badger")

	got := tree.Fuzzy([]byte("hunger"), 0, false)
	if len(got) != 1 || string(got[0].Leaf.Term) != "hunger" || got[0].Cost != 0 {
		t.Fatalf("exact lookup wrong: %v", candidateTerms(got))
	}
}

func TestFuzzyWithinDistance(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "hunger", "hanger", "badger", "hungry")

	// "huger" is one edit from "hunger" (insert n) and two from "hanger".
	got := tree.Fuzzy([]byte("huger"), 1, false)
	terms := candidateTerms(got)
	if len(terms) != 1 || terms[0] != "hunger" {
		t.Fatalf("expected only hunger at distance 1, got %v", terms)
	}

	// "hanger" needs two edits (substitute a, insert n); "hungry" needs
	// three and must stay excluded.
	got = tree.Fuzzy([]byte("huger"), 2, false)
	terms = candidateTerms(got)
	if len(terms) != 2 || terms[0] != "hanger" || terms[1] != "hunger" {
		t.Fatalf("expected hanger and hunger at distance 2, got %v", terms)
	}

	if got := tree.Fuzzy([]byte("huger"), 0, false); len(got) != 0 {
		t.Fatalf("zero-typo search must not match, got %v", candidateTerms(got))
	}
}

func TestFuzzyCostsAreExact(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "cat", "cart", "card")

	for _, c := range tree.Fuzzy([]byte("cat"), 2, false) {
		switch string(c.Leaf.Term) {
		case "cat":
			if c.Cost != 0 {
				t.Fatalf("cat should cost 0, got %d", c.Cost)
			}
		case "cart":
			if c.Cost != 1 {
				t.Fatalf("cart should cost 1, got %d", c.Cost)
			}
		case "card":
			if c.Cost != 2 {
				t.Fatalf("card should cost 2, got %d", c.Cost)
			}
		}
	}
}

func TestPrefixMatching(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "hunger", "hungry", "hunt", "banana")

	got := tree.Fuzzy([]byte("hun"), 0, true)
	terms := candidateTerms(got)
	want := []string{"hunger", "hungry", "hunt"}
	if len(terms) != len(want) {
		t.Fatalf("expected %v, got %v", want, terms)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, terms)
		}
	}

	// Without prefix mode the short token must not match longer terms.
	if got := tree.Fuzzy([]byte("hun"), 0, false); len(got) != 0 {
		t.Fatalf("non-prefix search matched %v", candidateTerms(got))
	}
}

func TestPrefixWithTypo(t *testing.T) {
	tree := New()
	insertTerms(t, tree, "hunger")

	// "hnu" is a transposed prefix of "hunger": two edits from "hun".
	got := tree.Fuzzy([]byte("hnu"), 2, true)
	if len(got) != 1 || string(got[0].Leaf.Term) != "hunger" {
		t.Fatalf("expected hunger via fuzzy prefix, got %v", candidateTerms(got))
	}
}

func BenchmarkFuzzy(b *testing.B) {
	tree := New()
	words := []string{"hunger", "hungry", "hanger", "badger", "banana", "bandana", "hunt", "hunted", "hunting"}
	for i, w := range words {
		leaf := tree.Upsert([]byte(w))
		leaf.Postings.Append(uint32(i), []uint16{0})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Fuzzy([]byte("hugner"), 2, false)
	}
}
