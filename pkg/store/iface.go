// iface.go defines the persistence interfaces for dependency injection
// and testing.
//
// The concrete *Store type satisfies all of them. Code that depends on
// persistence (the entity runtime, the delivery tracker) accepts the
// narrow interface for its concern instead of *Store, enabling mock
// injection in tests.
package store

import "time"

// EventJournal is the append-only per-entity event log.
type EventJournal interface {
	// Append atomically appends one event payload and returns its
	// sequence number once durable.
	Append(entityKey string, payload []byte) (int64, error)

	// Replay returns events with seq_nr >= fromSeq in append order.
	Replay(entityKey string, fromSeq int64) ([]Record, error)

	// Truncate removes events with seq_nr <= upToSeq.
	Truncate(entityKey string, upToSeq int64) error

	// MaxSeq returns the highest journaled sequence number, or 0.
	MaxSeq(entityKey string) (int64, error)
}

// SnapshotStore holds the latest state image per entity.
type SnapshotStore interface {
	// SaveSnapshot durably stores one state blob tagged with seqNr.
	SaveSnapshot(entityKey string, seqNr int64, takenAt time.Time, state []byte) error

	// LatestSnapshot returns the newest snapshot, or (nil, nil).
	LatestSnapshot(entityKey string) (*Snapshot, error)

	// DeleteSnapshot removes the snapshot tagged with seqNr. Idempotent.
	DeleteSnapshot(entityKey string, seqNr int64) error
}

// Outbox is the durable registry of unacknowledged deliveries.
type Outbox interface {
	// NextDeliveryID advances and returns the sender's counter.
	NextDeliveryID(senderKey string) (int64, error)

	// PutPending records a delivery before its first send attempt.
	PutPending(senderKey string, d PendingDelivery) error

	// ConfirmPending removes an acknowledged delivery. Idempotent.
	ConfirmPending(senderKey string, deliveryID int64) error

	// ListPending returns unacknowledged deliveries in ID order.
	ListPending(senderKey string) ([]PendingDelivery, error)
}

// Compile-time checks that *Store implements every interface.
var (
	_ EventJournal  = (*Store)(nil)
	_ SnapshotStore = (*Store)(nil)
	_ Outbox        = (*Store)(nil)
)
