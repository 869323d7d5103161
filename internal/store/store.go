// Package store defines the ordered byte-keyed persistence contract the
// collection engine depends on, plus memory, bolt, and postgres backends.
//
// Keys compare lexicographically as byte strings; Scan visits keys sharing a
// prefix in ascending key order. Increment maintains a decimal-ASCII counter
// with create-if-absent semantics.
package store

import (
	"fmt"

	"github.com/prismsearch/prism/pkg/config"
)

// Status reports the outcome of a point lookup.
type Status int

const (
	StatusFound Status = iota
	StatusNotFound
)

// Store is an ordered byte-keyed persistent key-value map.
type Store interface {
	// Get returns the value for key, or StatusNotFound.
	Get(key []byte) ([]byte, Status, error)
	// Insert sets key to value, overwriting any previous value.
	Insert(key []byte, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key []byte) error
	// Increment adds delta to the decimal-ASCII counter at key, creating it
	// at zero first if absent, and returns the new value.
	Increment(key []byte, delta uint32) (uint32, error)
	// Scan visits every key with the given prefix in ascending key order.
	// Returning an error from fn stops the scan and propagates the error.
	Scan(prefix []byte, fn func(key []byte, value []byte) error) error
	// Close releases the backend.
	Close() error
}

// Open constructs the Store selected by cfg.Driver.
func Open(cfg config.StoreConfig, pgCfg config.PostgresConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(cfg.Path)
	case "postgres":
		return OpenPostgres(pgCfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// upperBound returns the smallest key greater than every key having the
// given prefix, or nil when no such bound exists (all-0xff prefix).
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
