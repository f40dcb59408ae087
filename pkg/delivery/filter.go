// Package delivery implements both halves of at-least-once messaging
// between entities: the sender's retrying tracker and the receiver's
// dedup filter.
//
// Every directed message carries a per-sender monotonic delivery ID.
// The sender re-sends with capped exponential backoff until the
// receiver acknowledges; the receiver keeps one high-water mark per
// sender and discards anything at or below it. The mark is persisted
// through journaled NoDuplicate events by the runtime, so the filter
// here is a plain in-memory map with a monotonicity guard.
package delivery

import "github.com/daviddao/gridlock/pkg/ident"

// Filter is a per-receiver map of the highest accepted delivery ID per
// sender. Not goroutine-safe: each filter belongs to one entity, whose
// runtime processes commands strictly one at a time.
type Filter struct {
	highest map[ident.ID]int64
}

// NewFilter returns an empty filter.
func NewFilter() *Filter {
	return &Filter{highest: make(map[ident.ID]int64)}
}

// IsNew reports whether the delivery has not been accepted before:
// deliveryID > highest accepted for the sender (0 when unknown).
func (f *Filter) IsNew(sender ident.ID, deliveryID int64) bool {
	return deliveryID > f.highest[sender]
}

// Accept raises the sender's high-water mark. The mark is monotonic:
// an ID at or below the current mark leaves it unchanged.
func (f *Filter) Accept(sender ident.ID, deliveryID int64) {
	if deliveryID > f.highest[sender] {
		f.highest[sender] = deliveryID
	}
}

// Snapshot returns a copy of the marks for inclusion in a state
// snapshot.
func (f *Filter) Snapshot() map[ident.ID]int64 {
	if len(f.highest) == 0 {
		return nil
	}
	out := make(map[ident.ID]int64, len(f.highest))
	for k, v := range f.highest {
		out[k] = v
	}
	return out
}

// Restore replaces the marks from a snapshot, keeping monotonicity
// against anything already accepted.
func (f *Filter) Restore(marks map[ident.ID]int64) {
	for sender, id := range marks {
		f.Accept(sender, id)
	}
}
