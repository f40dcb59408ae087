package timebus

import (
	"testing"

	"github.com/daviddao/gridlock/pkg/event"
)

func TestSubscribeAck(t *testing.T) {
	b := New()
	ack := b.Subscribe("L-7", func(TimeCommand) {})
	if ack.Topic != Topic {
		t.Fatalf("ack topic = %q, want %q", ack.Topic, Topic)
	}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	b := New()
	var got []event.TimeValue
	b.Subscribe("L-1", func(c TimeCommand) { got = append(got, c.Value) })
	b.Subscribe("L-2", func(c TimeCommand) { got = append(got, c.Value) })

	b.Publish(100)
	if len(got) != 2 || got[0] != 100 || got[1] != 100 {
		t.Fatalf("deliveries = %v, want [100 100]", got)
	}
	if b.Current() != 100 {
		t.Fatalf("Current = %d, want 100", b.Current())
	}
}

func TestPublish_NeverRewinds(t *testing.T) {
	b := New()
	var got []event.TimeValue
	b.Subscribe("L-1", func(c TimeCommand) { got = append(got, c.Value) })

	b.Publish(150)
	b.Publish(100) // dropped
	b.Publish(150) // same value allowed; receivers are idempotent
	if len(got) != 2 || got[1] != 150 {
		t.Fatalf("deliveries = %v, want [150 150]", got)
	}
	if b.Current() != 150 {
		t.Fatalf("Current = %d, want 150", b.Current())
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("L-1", func(TimeCommand) { calls++ })
	b.Publish(1)
	b.Unsubscribe("L-1")
	b.Publish(2)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
