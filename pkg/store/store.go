// Package store manages all SQLite persistence for gridlock.
//
// SQLite in WAL mode holds the per-node tables for three concerns: the
// append-only per-entity event journal (with its sequence counters),
// the latest-snapshot records, and the at-least-once delivery outbox
// (with its delivery-ID counters). Entities hosted on the same node
// share one database; rows are keyed per entity, so concurrent
// writers for different entities never interfere.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations should use this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		entity_key TEXT    NOT NULL,
		seq_nr     INTEGER NOT NULL,
		payload    TEXT    NOT NULL,
		created_at TEXT    NOT NULL,
		PRIMARY KEY (entity_key, seq_nr)
	);

	CREATE TABLE IF NOT EXISTS journal_seq (
		entity_key TEXT PRIMARY KEY,
		last_seq   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		entity_key TEXT    NOT NULL,
		seq_nr     INTEGER NOT NULL,
		taken_at   TEXT    NOT NULL,
		state      TEXT    NOT NULL,
		PRIMARY KEY (entity_key, seq_nr)
	);

	CREATE TABLE IF NOT EXISTS outbox (
		sender_key  TEXT    NOT NULL,
		delivery_id INTEGER NOT NULL,
		dest_id     TEXT    NOT NULL,
		payload     TEXT    NOT NULL,
		created_at  TEXT    NOT NULL,
		PRIMARY KEY (sender_key, delivery_id)
	);

	CREATE TABLE IF NOT EXISTS delivery_seq (
		sender_key TEXT PRIMARY KEY,
		last_id    INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
