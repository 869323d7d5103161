package collection

import (
	"fmt"
	"sync"

	"github.com/prismsearch/prism/internal/store"
)

// seqCounter assigns the collection's monotone sequence ids and keeps the
// persisted counter in step. Ids are never reused, even across deletions.
type seqCounter struct {
	mu   sync.Mutex
	st   store.Store
	key  []byte
	next uint32
}

func newSeqCounter(st store.Store, collectionName string, next uint32) *seqCounter {
	return &seqCounter{
		st:   st,
		key:  nextSeqKey(collectionName),
		next: next,
	}
}

// Next increments the persisted counter and returns the id to assign.
func (c *seqCounter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.st.Increment(c.key, 1); err != nil {
		return 0, fmt.Errorf("incrementing sequence counter: %w", err)
	}
	id := c.next
	c.next++
	return id, nil
}

// Peek returns the next id without assigning it.
func (c *seqCounter) Peek() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
