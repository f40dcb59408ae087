// snapshot.go implements the latest-snapshot records.
//
// A snapshot is one state blob tagged with the sequence number of the
// last journaled event it includes. Rotation keeps only the newest
// row: after a save succeeds the previous row is deleted, and deletion
// is idempotent so a failed rotation is simply retried on the next
// save.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Snapshot is one stored state image.
type Snapshot struct {
	SeqNr   int64
	TakenAt time.Time
	State   []byte
}

// SaveSnapshot durably stores one state blob for the entity, tagged
// with the sequence number of the last included event.
func (s *Store) SaveSnapshot(entityKey string, seqNr int64, takenAt time.Time, state []byte) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO snapshots (entity_key, seq_nr, taken_at, state) VALUES (?, ?, ?, ?)
			 ON CONFLICT(entity_key, seq_nr) DO UPDATE SET
			   taken_at = excluded.taken_at,
			   state = excluded.state`,
			entityKey, seqNr, takenAt.UTC().Format(time.RFC3339Nano), string(state),
		)
		return err
	})
}

// LatestSnapshot returns the entity's newest snapshot, or (nil, nil)
// when none exists.
func (s *Store) LatestSnapshot(entityKey string) (*Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT seq_nr, taken_at, state FROM snapshots
		 WHERE entity_key = ? ORDER BY seq_nr DESC LIMIT 1`,
		entityKey,
	)
	var snap Snapshot
	var takenStr, state string
	if err := row.Scan(&snap.SeqNr, &takenStr, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	snap.State = []byte(state)
	var parseErr error
	snap.TakenAt, parseErr = time.Parse(time.RFC3339Nano, takenStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse taken_at for %s seq %d: %w", entityKey, snap.SeqNr, parseErr)
	}
	return &snap, nil
}

// DeleteSnapshot removes the snapshot tagged with seqNr. Deleting a
// row that is already gone is not an error.
func (s *Store) DeleteSnapshot(entityKey string, seqNr int64) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`DELETE FROM snapshots WHERE entity_key = ? AND seq_nr = ?`,
			entityKey, seqNr,
		)
		return err
	})
}
