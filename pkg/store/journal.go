// journal.go implements the per-entity append-only event log.
//
// Sequence numbers are dense and monotonic per entity and assigned
// inside the append transaction, so a failed append can never leave a
// gap or become visible to a later replay.
package store

import (
	"fmt"
	"time"
)

// Record is one journaled event as stored: the entity-local sequence
// number and the encoded event payload.
type Record struct {
	SeqNr     int64
	Payload   []byte
	CreatedAt time.Time
}

// Append atomically appends one event payload for the entity and
// returns its sequence number. The call returns only once the row is
// durable. The per-entity counter lives in journal_seq so numbering
// stays dense and monotonic across truncation.
func (s *Store) Append(entityKey string, payload []byte) (int64, error) {
	var seq int64
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.Exec(
			`INSERT INTO journal_seq (entity_key, last_seq) VALUES (?, 1)
			 ON CONFLICT(entity_key) DO UPDATE SET last_seq = last_seq + 1`,
			entityKey,
		); err != nil {
			return err
		}
		if err := tx.QueryRow(
			`SELECT last_seq FROM journal_seq WHERE entity_key = ?`, entityKey,
		).Scan(&seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO journal (entity_key, seq_nr, payload, created_at) VALUES (?, ?, ?, ?)`,
			entityKey, seq, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Replay returns the entity's events with seq_nr >= fromSeq in append
// order.
func (s *Store) Replay(entityKey string, fromSeq int64) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT seq_nr, payload, created_at FROM journal
		 WHERE entity_key = ? AND seq_nr >= ?
		 ORDER BY seq_nr ASC`,
		entityKey, fromSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var payload, createdStr string
		if err := rows.Scan(&r.SeqNr, &payload, &createdStr); err != nil {
			return nil, err
		}
		r.Payload = []byte(payload)
		var parseErr error
		r.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse created_at for %s seq %d: %w", entityKey, r.SeqNr, parseErr)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Truncate removes the entity's events with seq_nr <= upToSeq. Called
// after a snapshot covering those events is durable.
func (s *Store) Truncate(entityKey string, upToSeq int64) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`DELETE FROM journal WHERE entity_key = ? AND seq_nr <= ?`,
			entityKey, upToSeq,
		)
		return err
	})
}

// MaxSeq returns the entity's highest assigned sequence number, or 0
// if it never journaled. Truncation does not lower it.
func (s *Store) MaxSeq(entityKey string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(
		`SELECT COALESCE((SELECT last_seq FROM journal_seq WHERE entity_key = ?), 0)`, entityKey,
	).Scan(&seq)
	return seq, err
}
