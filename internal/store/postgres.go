package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/prismsearch/prism/pkg/config"
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS prism_kv (
    key   BYTEA PRIMARY KEY,
    value BYTEA NOT NULL
)`

// Postgres is a Store backed by a single BYTEA key-value table. The
// primary-key index gives ordered prefix scans via range predicates, and
// Increment rides a SELECT ... FOR UPDATE transaction so concurrent
// counters stay exact.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects per the config and ensures the kv table exists.
func OpenPostgres(cfg config.PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating prism_kv table: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(key []byte) ([]byte, Status, error) {
	var value []byte
	err := p.db.QueryRow(`SELECT value FROM prism_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, StatusNotFound, nil
	}
	if err != nil {
		return nil, StatusNotFound, fmt.Errorf("kv get: %w", err)
	}
	return value, StatusFound, nil
}

func (p *Postgres) Insert(key []byte, value []byte) error {
	_, err := p.db.Exec(
		`INSERT INTO prism_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("kv insert: %w", err)
	}
	return nil
}

func (p *Postgres) Remove(key []byte) error {
	if _, err := p.db.Exec(`DELETE FROM prism_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv remove: %w", err)
	}
	return nil
}

func (p *Postgres) Increment(key []byte, delta uint32) (uint32, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning counter transaction: %w", err)
	}
	// Create the row at zero first so the FOR UPDATE below always has a row
	// to lock, including on a counter's first increment.
	if _, err := tx.Exec(
		`INSERT INTO prism_kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, []byte("0"),
	); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("creating counter: %w", err)
	}
	var raw []byte
	err = tx.QueryRow(`SELECT value FROM prism_kv WHERE key = $1 FOR UPDATE`, key).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		tx.Rollback()
		return 0, fmt.Errorf("reading counter: %w", err)
	}
	var current uint64
	if len(raw) > 0 {
		parsed, perr := strconv.ParseUint(string(raw), 10, 32)
		if perr != nil {
			tx.Rollback()
			return 0, fmt.Errorf("counter at %q is not a decimal integer: %w", key, perr)
		}
		current = parsed
	}
	next := uint32(current) + delta
	_, err = tx.Exec(
		`INSERT INTO prism_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, []byte(strconv.FormatUint(uint64(next), 10)),
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("writing counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing counter: %w", err)
	}
	return next, nil
}

func (p *Postgres) Scan(prefix []byte, fn func(key []byte, value []byte) error) error {
	var rows *sql.Rows
	var err error
	if end := upperBound(prefix); end != nil {
		rows, err = p.db.Query(
			`SELECT key, value FROM prism_kv WHERE key >= $1 AND key < $2 ORDER BY key`,
			prefix, end,
		)
	} else {
		rows, err = p.db.Query(
			`SELECT key, value FROM prism_kv WHERE key >= $1 ORDER BY key`,
			prefix,
		)
	}
	if err != nil {
		return fmt.Errorf("kv scan: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("kv scan row: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
