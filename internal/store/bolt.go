package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boltdb/bolt"
)

var kvBucket = []byte("kv")

// Bolt is a Store backed by a single-file BoltDB database. Bolt keeps keys
// in byte order inside its bucket, which gives Scan its ordering for free.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(key []byte) ([]byte, Status, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(kvBucket).Get(key)
		if raw != nil {
			value = make([]byte, len(raw))
			copy(value, raw)
		}
		return nil
	})
	if err != nil {
		return nil, StatusNotFound, err
	}
	if value == nil {
		return nil, StatusNotFound, nil
	}
	return value, StatusFound, nil
}

func (b *Bolt) Insert(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put(key, value)
	})
}

func (b *Bolt) Remove(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete(key)
	})
}

func (b *Bolt) Increment(key []byte, delta uint32) (uint32, error) {
	var next uint32
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(kvBucket)
		var current uint64
		if raw := bucket.Get(key); raw != nil {
			parsed, err := strconv.ParseUint(string(raw), 10, 32)
			if err != nil {
				return fmt.Errorf("counter at %q is not a decimal integer: %w", key, err)
			}
			current = parsed
		}
		next = uint32(current) + delta
		return bucket.Put(key, []byte(strconv.FormatUint(uint64(next), 10)))
	})
	return next, err
}

func (b *Bolt) Scan(prefix []byte, fn func(key []byte, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(kvBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
