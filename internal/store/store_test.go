package store

import (
	"bytes"
	"fmt"
	"testing"
)

func TestMemoryGetInsertRemove(t *testing.T) {
	st := NewMemory()

	_, status, err := st.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if status != StatusNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", status)
	}

	if err := st.Insert([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	value, status, err := st.Get([]byte("k1"))
	if err != nil || status != StatusFound {
		t.Fatalf("expected FOUND, got status=%v err=%v", status, err)
	}
	if string(value) != "v1" {
		t.Fatalf("expected v1, got %s", value)
	}

	if err := st.Remove([]byte("k1")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, status, _ := st.Get([]byte("k1")); status != StatusNotFound {
		t.Fatalf("expected NOT_FOUND after remove, got %v", status)
	}
	// Removing an absent key is not an error.
	if err := st.Remove([]byte("k1")); err != nil {
		t.Fatalf("removing absent key failed: %v", err)
	}
}

func TestMemoryIncrement(t *testing.T) {
	st := NewMemory()
	key := []byte("$CN_books")

	for want := uint32(1); want <= 3; want++ {
		got, err := st.Increment(key, 1)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter %d, got %d", want, got)
		}
	}
	value, status, _ := st.Get(key)
	if status != StatusFound || string(value) != "3" {
		t.Fatalf("expected decimal ASCII counter value 3, got %q", value)
	}
}

func TestMemoryScanOrderedByKey(t *testing.T) {
	st := NewMemory()
	// Insert out of order; Scan must yield byte order.
	st.Insert([]byte("p_3"), []byte("c"))
	st.Insert([]byte("p_1"), []byte("a"))
	st.Insert([]byte("q_9"), []byte("other"))
	st.Insert([]byte("p_2"), []byte("b"))

	var keys []string
	err := st.Scan([]byte("p_"), func(key []byte, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	want := []string{"p_1", "p_2", "p_3"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("expected key %s at position %d, got %s", k, i, keys[i])
		}
	}
}

func TestMemoryScanBinaryKeys(t *testing.T) {
	st := NewMemory()
	prefix := []byte("1_$SI_")
	for _, seq := range []uint32{3, 0, 2, 1} {
		key := append(append([]byte(nil), prefix...),
			byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq))
		st.Insert(key, []byte(fmt.Sprintf("doc-%d", seq)))
	}
	var got []string
	st.Scan(prefix, func(key []byte, value []byte) error {
		got = append(got, string(value))
		return nil
	})
	want := []string{"doc-0", "doc-1", "doc-2", "doc-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("binary keys scanned out of order: %v", got)
		}
	}
}

func TestUpperBound(t *testing.T) {
	cases := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tc := range cases {
		got := upperBound(tc.prefix)
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("upperBound(%v) = %v, want %v", tc.prefix, got, tc.want)
		}
	}
}
