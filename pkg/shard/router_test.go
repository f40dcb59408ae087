package shard

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/logging"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/store"
)

// sinkBehavior records which commands reached it.
type sinkBehavior struct {
	mu   sync.Mutex
	cmds []message.Command
	got  chan struct{}
}

func newSinkBehavior() *sinkBehavior {
	return &sinkBehavior{got: make(chan struct{}, 16)}
}

func (b *sinkBehavior) Bootstrap(*runtime.Context) error { return nil }

func (b *sinkBehavior) HandleCommand(_ *runtime.Context, _ ident.ID, cmd message.Command) error {
	b.mu.Lock()
	b.cmds = append(b.cmds, cmd)
	b.mu.Unlock()
	select {
	case b.got <- struct{}{}:
	default:
	}
	return nil
}

func (b *sinkBehavior) ApplyEvent(event.Event)         {}
func (b *sinkBehavior) SnapshotState() ([]byte, error) { return []byte(`{}`), nil }
func (b *sinkBehavior) RestoreState([]byte) error      { return nil }

type captureForwarder struct {
	mu   sync.Mutex
	envs []message.Envelope
	node string
}

func (f *captureForwarder) Forward(node string, env message.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.node = node
	f.envs = append(f.envs, env)
}

func newTestRouter(t *testing.T, cfg Config, factory BehaviorFactory, fwd Forwarder) *Router {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "shard.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	log := logging.Component(logging.New("test"), "shard")
	r := New(cfg, factory, runtime.Deps{Journal: s, Snapshots: s, Outbox: s, Log: log}, nil, fwd, log)
	t.Cleanup(r.Stop)
	return r
}

func TestShardOf_Stable(t *testing.T) {
	r := newTestRouter(t, Config{Shards: 8, Node: "n1"}, func(ident.ID) (runtime.Behavior, error) {
		return newSinkBehavior(), nil
	}, nil)
	a := r.ShardOf("L-7")
	for i := 0; i < 10; i++ {
		if r.ShardOf("L-7") != a {
			t.Fatal("shard assignment must be stable")
		}
	}
	if a < 0 || a >= 8 {
		t.Fatalf("shard %d out of range", a)
	}
}

func TestRoute_SpawnsOnceAndDelivers(t *testing.T) {
	var mu sync.Mutex
	spawned := map[ident.ID]int{}
	behaviors := map[ident.ID]*sinkBehavior{}
	factory := func(id ident.ID) (runtime.Behavior, error) {
		mu.Lock()
		defer mu.Unlock()
		spawned[id]++
		b := newSinkBehavior()
		behaviors[id] = b
		return b, nil
	}
	r := newTestRouter(t, Config{Shards: 4, Node: "n1"}, factory, nil)

	for i := int64(1); i <= 3; i++ {
		err := r.Route(message.Envelope{
			To:      "L-7",
			From:    "M-1",
			Request: &message.Request{DeliveryID: i, Command: message.MobileEntityAdd{ID: "M-1"}},
		})
		if err != nil {
			t.Fatalf("Route: %v", err)
		}
	}

	mu.Lock()
	b := behaviors["L-7"]
	count := spawned["L-7"]
	mu.Unlock()
	if count != 1 {
		t.Fatalf("entity spawned %d times, want 1 (shard singleton)", count)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-b.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d never delivered", i+1)
		}
	}
	// L-7 plus M-1: the acks L-7 routes back to its sender spawn M-1.
	if r.LocalCount() != 2 {
		t.Fatalf("LocalCount = %d, want 2 (L-7 and the ack target M-1)", r.LocalCount())
	}
}

func TestRoute_ForwardsRemoteShard(t *testing.T) {
	fwd := &captureForwarder{}
	// Every shard assigned away from this node.
	assignment := map[int]string{}
	for i := 0; i < 4; i++ {
		assignment[i] = "n2"
	}
	r := newTestRouter(t, Config{Shards: 4, Node: "n1", Assignment: assignment}, func(ident.ID) (runtime.Behavior, error) {
		t.Fatal("remote envelope must not spawn locally")
		return nil, nil
	}, fwd)

	env := message.Envelope{To: "L-7", From: "M-1", Request: &message.Request{DeliveryID: 1, Command: message.ResumeExecution{}}}
	if err := r.Route(env); err != nil {
		t.Fatalf("Route: %v", err)
	}
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	if fwd.node != "n2" || len(fwd.envs) != 1 {
		t.Fatalf("forwarded %d envelopes to %q, want 1 to n2", len(fwd.envs), fwd.node)
	}
}

func TestRoute_RejectsEmptyDestination(t *testing.T) {
	r := newTestRouter(t, Config{Shards: 2, Node: "n1"}, func(ident.ID) (runtime.Behavior, error) {
		return newSinkBehavior(), nil
	}, nil)
	if err := r.Route(message.Envelope{Request: &message.Request{Command: message.ResumeExecution{}}}); err == nil {
		t.Fatal("expected error for envelope without destination")
	}
}
