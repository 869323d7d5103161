// Package match computes the positional relevance of a document for a set
// of query tokens: the smallest token window that covers every query token
// present in the field, plus the per-token offsets needed to rebuild
// highlights later.
package match

import (
	"math"
	"sort"
)

// NotFound marks a token that does not appear inside the best window.
const NotFound = int8(math.MaxInt8)

// maxDistance caps the reported window span so it stays in a uint8;
// beyond this every window is equally bad.
const maxDistance = math.MaxUint8

// Score describes the best positional match of query tokens in one field.
type Score struct {
	// WordsPresent is the number of query tokens with at least one position.
	WordsPresent uint8
	// Distance is the span (end - start) of the smallest covering window.
	Distance uint8
	// StartOffset is the window's starting token position.
	StartOffset uint16
	// OffsetDiffs[0] repeats WordsPresent; OffsetDiffs[i] for i >= 1 is the
	// i-th present token's position relative to StartOffset, or NotFound
	// when that token has no position inside the window.
	OffsetDiffs []int8
}

// Rank folds the score into a single comparable value: any extra covered
// token outranks any window-size difference, since positions are 16-bit.
func (s Score) Rank() int64 {
	return int64(s.WordsPresent)<<16 - int64(s.Distance)
}

type event struct {
	pos   uint16
	token int
}

// Compute finds the smallest window over the merged position lists that
// contains at least one position of every token whose list is non-empty.
// tokenPositions holds one sorted position list per query token; empty
// lists count against WordsPresent but are otherwise ignored.
func Compute(tokenPositions [][]uint16) Score {
	present := make([]int, 0, len(tokenPositions))
	events := make([]event, 0)
	for i, positions := range tokenPositions {
		if len(positions) == 0 {
			continue
		}
		present = append(present, i)
		for _, p := range positions {
			events = append(events, event{pos: p, token: i})
		}
	}
	words := len(present)
	score := Score{
		WordsPresent: uint8(words),
		OffsetDiffs:  make([]int8, words+1),
	}
	score.OffsetDiffs[0] = int8(words)
	if words == 0 {
		return score
	}
	sort.Slice(events, func(i, j int) bool { return events[i].pos < events[j].pos })

	// Slide a window over the merged events, tracking how many distinct
	// tokens it covers; shrink from the left whenever full coverage holds.
	counts := make(map[int]int, words)
	covered := 0
	bestStart, bestEnd := events[0].pos, uint16(math.MaxUint16)
	found := false
	lo := 0
	for hi := 0; hi < len(events); hi++ {
		if counts[events[hi].token] == 0 {
			covered++
		}
		counts[events[hi].token]++
		for covered == words {
			start, end := events[lo].pos, events[hi].pos
			if !found || end-start < bestEnd-bestStart {
				bestStart, bestEnd = start, end
				found = true
			}
			counts[events[lo].token]--
			if counts[events[lo].token] == 0 {
				covered--
			}
			lo++
		}
	}
	if !found {
		// Cannot happen while words > 0, but keep the zero window sane.
		bestStart, bestEnd = events[0].pos, events[0].pos
	}

	distance := int(bestEnd - bestStart)
	if distance > maxDistance {
		distance = maxDistance
	}
	score.Distance = uint8(distance)
	score.StartOffset = bestStart

	for slot, tokenIdx := range present {
		diff := NotFound
		for _, p := range tokenPositions[tokenIdx] {
			if p >= bestStart && p <= bestEnd {
				d := int(p) - int(bestStart)
				if d < int(NotFound) {
					diff = int8(d)
				}
				break
			}
		}
		score.OffsetDiffs[slot+1] = diff
	}
	return score
}
