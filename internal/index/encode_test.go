package index

import (
	"sort"
	"testing"
)

func TestFloatEncodingMonotone(t *testing.T) {
	values := []float32{-1000.5, -2.0, -1.0, -0.25, 0.0, 0.25, 1.5, 3.25, 99.75, 12345.5}
	if !sort.SliceIsSorted(values, func(i, j int) bool { return values[i] < values[j] }) {
		t.Fatalf("test fixture must be sorted")
	}
	for i := 1; i < len(values); i++ {
		a := Float32ToSortable(values[i-1])
		b := Float32ToSortable(values[i])
		if a >= b {
			t.Fatalf("encoding not monotone: %f -> %d, %f -> %d",
				values[i-1], a, values[i], b)
		}
	}
}

func TestFloatEncodingInjectiveOnEquality(t *testing.T) {
	if Float32ToSortable(4.5) != Float32ToSortable(4.5) {
		t.Fatalf("equal floats must encode equally")
	}
	if Float32ToSortable(4.5) == Float32ToSortable(4.5000005) {
		t.Fatalf("distinct floats must encode distinctly")
	}
}
