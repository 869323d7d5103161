package index

import "math"

// Float32ToSortable maps a float to an int32 whose signed ordering matches
// the float ordering: reinterpret the IEEE-754 bits, flip the sign bit for
// positives and all bits for negatives, then shift into the signed range.
// Sort keys and filter operands for float fields both live in this encoding,
// so comparisons never touch floating point again after ingestion.
func Float32ToSortable(f float32) int32 {
	bits := int32(math.Float32bits(f))
	bits ^= (bits >> 31) | math.MinInt32
	return -(math.MaxInt32 - bits)
}
