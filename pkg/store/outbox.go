// outbox.go implements the durable registry of unacknowledged
// outbound deliveries.
//
// A sender persists each delivery before its first send attempt and
// deletes it on acknowledgement. After a restart the tracker reloads
// its pending rows and resumes retries, which is what makes delivery
// at-least-once across crashes.
package store

import (
	"fmt"
	"time"
)

// PendingDelivery is one unacknowledged outbound message.
type PendingDelivery struct {
	DeliveryID int64
	DestID     string
	Payload    []byte
	CreatedAt  time.Time
}

// PutPending durably records an outbound delivery before its first
// send attempt.
func (s *Store) PutPending(senderKey string, d PendingDelivery) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO outbox (sender_key, delivery_id, dest_id, payload, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(sender_key, delivery_id) DO UPDATE SET
			   dest_id = excluded.dest_id,
			   payload = excluded.payload`,
			senderKey, d.DeliveryID, d.DestID, string(d.Payload),
			d.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// ConfirmPending removes an acknowledged delivery. Removing a row that
// is already gone is not an error (retries may race the ack).
func (s *Store) ConfirmPending(senderKey string, deliveryID int64) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`DELETE FROM outbox WHERE sender_key = ? AND delivery_id = ?`,
			senderKey, deliveryID,
		)
		return err
	})
}

// ListPending returns the sender's unacknowledged deliveries in
// delivery-ID order.
func (s *Store) ListPending(senderKey string) ([]PendingDelivery, error) {
	rows, err := s.db.Query(
		`SELECT delivery_id, dest_id, payload, created_at FROM outbox
		 WHERE sender_key = ? ORDER BY delivery_id ASC`,
		senderKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingDelivery
	for rows.Next() {
		var d PendingDelivery
		var payload, createdStr string
		if err := rows.Scan(&d.DeliveryID, &d.DestID, &payload, &createdStr); err != nil {
			return nil, err
		}
		d.Payload = []byte(payload)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		pending = append(pending, d)
	}
	return pending, rows.Err()
}

// NextDeliveryID atomically advances and returns the sender's delivery
// counter. The counter lives in its own row so it keeps increasing
// even after every pending delivery has been confirmed — receiver
// dedup depends on IDs never being reissued.
func (s *Store) NextDeliveryID(senderKey string) (int64, error) {
	var id int64
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.Exec(
			`INSERT INTO delivery_seq (sender_key, last_id) VALUES (?, 1)
			 ON CONFLICT(sender_key) DO UPDATE SET last_id = last_id + 1`,
			senderKey,
		); err != nil {
			return err
		}
		if err := tx.QueryRow(
			`SELECT last_id FROM delivery_seq WHERE sender_key = ?`, senderKey,
		).Scan(&id); err != nil {
			return err
		}
		return tx.Commit()
	})
	return id, err
}
