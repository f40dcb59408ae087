package traffic

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/gridlock/pkg/delivery"
	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/logging"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/store"
	"github.com/daviddao/gridlock/pkg/worldmap"
)

const testMap = `{
	"roads": [{"id": "R-1", "lanes": ["L-7", "L-8"]}],
	"lanes": [
		{"id": "L-7", "road_id": "R-1", "length": 10},
		{"id": "L-8", "road_id": "R-1", "length": 10}
	],
	"crossroads": [{"id": "C-1", "lanes": ["L-7", "L-8"]}],
	"pedestrian_crossings": [{"id": "P-1", "road_id": "R-1"}],
	"bus_stops": [{"id": "B-1", "line": "42", "dwell": 30}],
	"tram_stops": [{"id": "T-1", "line": "9", "dwell": 20}],
	"zones": [{"id": "Z-1", "name": "center"}]
}`

func testWorld(t *testing.T) *worldmap.Map {
	t.Helper()
	m, err := worldmap.Load(strings.NewReader(testMap))
	if err != nil {
		t.Fatalf("load test map: %v", err)
	}
	return m
}

// outCapture records envelopes the entity under test sends out.
type outCapture struct {
	mu   sync.Mutex
	envs []message.Envelope
}

func (c *outCapture) Send(env message.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

// commandsTo returns the commands sent to the given destination so far.
func (c *outCapture) commandsTo(dest ident.ID) []message.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []message.Command
	for _, env := range c.envs {
		if env.To == dest && env.Request != nil {
			out = append(out, env.Request.Command)
		}
	}
	return out
}

// waitCommandTo polls until a command of the wanted type reaches dest.
func (c *outCapture) waitCommandTo(t *testing.T, dest ident.ID, match func(message.Command) bool) message.Command {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, cmd := range c.commandsTo(dest) {
			if match(cmd) {
				return cmd
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no matching command reached %s; sent: %+v", dest, c.commandsTo(dest))
	return nil
}

// startBehavior hosts a behavior in a real entity over a fresh store.
// Retries are effectively disabled so the capture sees each logical
// send exactly once.
func startBehavior(t *testing.T, id ident.ID, b runtime.Behavior) (*runtime.Entity, *outCapture, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "traffic.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	capture := &outCapture{}
	e := runtime.New(id, b, runtime.Deps{
		Journal:   s,
		Snapshots: s,
		Outbox:    s,
		Transport: capture,
		Log:       logging.Component(logging.New("test"), "traffic"),
	}, runtime.Config{
		Delivery: delivery.Config{BaseDelay: time.Hour, MaxDelay: time.Hour},
	})
	if err := e.Start(); err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	t.Cleanup(e.Stop)
	return e, capture, s
}

// inject sends an injector (untracked) command to the entity.
func inject(e *runtime.Entity, cmd message.Command) {
	e.Enqueue(message.Envelope{
		To:      e.ID(),
		Request: &message.Request{Command: cmd},
	})
}

// sendFrom sends a tracked request from a peer entity.
func sendFrom(e *runtime.Entity, from ident.ID, deliveryID int64, cmd message.Command) {
	e.Enqueue(message.Envelope{
		To:      e.ID(),
		From:    from,
		Request: &message.Request{DeliveryID: deliveryID, Command: cmd},
	})
}

// journaledEvents decodes the entity's full journal, skipping dedup
// markers.
func journaledEvents(t *testing.T, s *store.Store, key string) []event.Event {
	t.Helper()
	records, err := s.Replay(key, 0)
	if err != nil {
		t.Fatal(err)
	}
	var out []event.Event
	for _, rec := range records {
		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			t.Fatalf("undecodable journal record seq %d: %v", rec.SeqNr, err)
		}
		if _, dedup := ev.(event.NoDuplicate); dedup {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func testLogger() *slog.Logger {
	return logging.Component(logging.New("test"), "traffic")
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

// immovableHarness bundles the hosted entity with its capture and store.
type immovableHarness struct {
	e       *runtime.Entity
	capture *outCapture
	s       *store.Store
}

func isResume(cmd message.Command) bool {
	_, ok := cmd.(message.ResumeExecution)
	return ok
}

func isGranted(cmd message.Command) bool {
	_, ok := cmd.(message.AdmissionGranted)
	return ok
}
