// Package timebus implements the simulation time broadcast.
//
// One process-wide topic ("timeMessage") carries monotonic TimeValue
// ticks to every subscribed entity. Entities use ticks to wake their
// dormant mobiles: on each tick an immovable wakes every sleeper whose
// scheduled time is due. Tick processing is idempotent, so redelivery
// of the same tick wakes nobody new; the bus additionally never lets
// the published value move backward.
package timebus

import (
	"context"
	"sync"
	"time"

	"github.com/daviddao/gridlock/pkg/event"
)

// Topic is the broadcast topic name.
const Topic = "timeMessage"

// TimeCommand is one tick as delivered to subscribers.
type TimeCommand struct {
	Value event.TimeValue `json:"value"`
}

// SubscribeAck confirms a subscription.
type SubscribeAck struct {
	Topic string `json:"topic"`
}

// Subscriber receives ticks. Implementations must not block: entity
// subscribers enqueue the tick into their mailbox and return.
type Subscriber func(TimeCommand)

// Bus is the process-wide time topic.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
	last event.TimeValue
}

// New returns an empty bus at time zero.
func New() *Bus {
	return &Bus{subs: make(map[string]Subscriber)}
}

// Subscribe registers a subscriber under its entity ID and returns the
// acknowledgement. Re-subscribing replaces the previous callback.
func (b *Bus) Subscribe(id string, fn Subscriber) SubscribeAck {
	b.mu.Lock()
	b.subs[id] = fn
	b.mu.Unlock()
	return SubscribeAck{Topic: Topic}
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Publish broadcasts a tick to every subscriber. A value below the
// last published one is dropped: the simulation clock never rewinds.
func (b *Bus) Publish(v event.TimeValue) {
	b.mu.Lock()
	if v < b.last {
		b.mu.Unlock()
		return
	}
	b.last = v
	subs := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	cmd := TimeCommand{Value: v}
	for _, fn := range subs {
		fn(cmd)
	}
}

// Current returns the last published time.
func (b *Bus) Current() event.TimeValue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// Run drives the bus from the wall clock: every interval the
// simulation time advances by step and is published. Returns when the
// context is cancelled.
func (b *Bus) Run(ctx context.Context, interval time.Duration, step event.TimeValue) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(b.Current() + step)
		}
	}
}
