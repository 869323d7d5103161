// Package posting implements the per-term posting record: a sorted list of
// document sequence ids together with the token positions at which the term
// occurs in each document.
//
// The layout is three flat slices. ids holds the documents in ascending
// order. offsets concatenates every document's sorted position list.
// offsetIndex[i] is the start of document ids[i]'s positions within offsets;
// the run ends at offsetIndex[i+1], or len(offsets) for the last document.
package posting

import "sort"

// List is the posting record for one term.
type List struct {
	ids         []uint32
	offsetIndex []uint32
	offsets     []uint16
}

// New returns an empty posting list.
func New() *List {
	return &List{}
}

// Append records that doc seqID contains the term at the given positions.
// Sequence ids are assigned monotonically, so appends keep ids sorted; an
// out-of-order append is a caller bug and is ignored.
func (l *List) Append(seqID uint32, positions []uint16) {
	if len(positions) == 0 {
		return
	}
	if n := len(l.ids); n > 0 && l.ids[n-1] >= seqID {
		if l.ids[n-1] == seqID {
			// Same doc indexed twice for one term: extend its run in place.
			// Only valid while the doc is still the final entry.
			l.offsets = append(l.offsets, positions...)
			return
		}
		return
	}
	l.ids = append(l.ids, seqID)
	l.offsetIndex = append(l.offsetIndex, uint32(len(l.offsets)))
	l.offsets = append(l.offsets, positions...)
}

// IndexOf returns the position of seqID in the id list via binary search.
func (l *List) IndexOf(seqID uint32) (int, bool) {
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= seqID })
	if i < len(l.ids) && l.ids[i] == seqID {
		return i, true
	}
	return i, false
}

// Contains reports whether seqID is present.
func (l *List) Contains(seqID uint32) bool {
	_, ok := l.IndexOf(seqID)
	return ok
}

// Positions returns the token positions of the document at index i.
// The returned slice aliases the list's buffer and must not be mutated.
func (l *List) Positions(i int) []uint16 {
	start := l.offsetIndex[i]
	end := uint32(len(l.offsets))
	if i+1 < len(l.offsetIndex) {
		end = l.offsetIndex[i+1]
	}
	return l.offsets[start:end]
}

// PositionsOf returns the token positions for seqID, if present.
func (l *List) PositionsOf(seqID uint32) ([]uint16, bool) {
	i, ok := l.IndexOf(seqID)
	if !ok {
		return nil, false
	}
	return l.Positions(i), true
}

// Remove splices seqID and its positions out of the list, reporting whether
// it was present.
func (l *List) Remove(seqID uint32) bool {
	i, ok := l.IndexOf(seqID)
	if !ok {
		return false
	}
	start := l.offsetIndex[i]
	end := uint32(len(l.offsets))
	if i+1 < len(l.offsetIndex) {
		end = l.offsetIndex[i+1]
	}
	removed := end - start

	l.offsets = append(l.offsets[:start], l.offsets[end:]...)
	l.ids = append(l.ids[:i], l.ids[i+1:]...)
	l.offsetIndex = append(l.offsetIndex[:i], l.offsetIndex[i+1:]...)
	for j := i; j < len(l.offsetIndex); j++ {
		l.offsetIndex[j] -= removed
	}
	return true
}

// Len returns the number of documents containing the term.
func (l *List) Len() int {
	return len(l.ids)
}

// IDs returns the sorted document ids. The slice aliases the list's buffer
// and must not be mutated.
func (l *List) IDs() []uint32 {
	return l.ids
}
