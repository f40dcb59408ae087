package delivery

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/store"
)

// SendFunc transmits one encoded envelope toward a destination entity.
// Sends are fire-and-forget; reliability comes from the tracker's
// retries, not from the transport.
type SendFunc func(dest ident.ID, payload []byte)

// Config controls the retry schedule.
type Config struct {
	// BaseDelay is the first resend delay; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the growing delay.
	MaxDelay time.Duration
	// MaxAttempts bounds resends; 0 means retry forever. When
	// exceeded the delivery is logged and dropped.
	MaxAttempts int
}

// DefaultConfig matches the retry posture of the store layer: fast
// first retry, capped growth.
var DefaultConfig = Config{
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	MaxAttempts: 0,
}

type pendingState struct {
	dest     ident.ID
	payload  []byte
	attempts int
	nextAt   time.Time
}

// Tracker is one entity's at-least-once sender: it assigns strictly
// increasing delivery IDs, persists every delivery to the outbox
// before the first attempt, and resends until confirmed.
type Tracker struct {
	senderKey string
	outbox    store.Outbox
	send      SendFunc
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	pending  map[int64]*pendingState
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewTracker builds a tracker for the sender identified by senderKey
// (its persistence key).
func NewTracker(senderKey string, outbox store.Outbox, send SendFunc, cfg Config, log *slog.Logger) *Tracker {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Tracker{
		senderKey: senderKey,
		outbox:    outbox,
		send:      send,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		pending:   make(map[int64]*pendingState),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Reload restores unacknowledged deliveries from the outbox after a
// restart and schedules them for immediate resend.
func (t *Tracker) Reload() error {
	rows, err := t.outbox.ListPending(t.senderKey)
	if err != nil {
		return fmt.Errorf("reload outbox for %s: %w", t.senderKey, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		t.pending[row.DeliveryID] = &pendingState{
			dest:    ident.ID(row.DestID),
			payload: row.Payload,
			nextAt:  t.now(),
		}
	}
	return nil
}

// Deliver assigns the next delivery ID, persists the delivery, and
// makes the first send attempt. The envelope is built by the caller so
// the assigned ID is visible inside the wire payload.
func (t *Tracker) Deliver(dest ident.ID, mkEnvelope func(deliveryID int64) []byte) (int64, error) {
	id, err := t.outbox.NextDeliveryID(t.senderKey)
	if err != nil {
		return 0, fmt.Errorf("assign delivery id: %w", err)
	}
	payload := mkEnvelope(id)
	if err := t.outbox.PutPending(t.senderKey, store.PendingDelivery{
		DeliveryID: id,
		DestID:     string(dest),
		Payload:    payload,
		CreatedAt:  t.now(),
	}); err != nil {
		return 0, fmt.Errorf("persist delivery %d: %w", id, err)
	}

	t.mu.Lock()
	t.pending[id] = &pendingState{
		dest:    dest,
		payload: payload,
		nextAt:  t.now().Add(t.cfg.BaseDelay),
	}
	t.mu.Unlock()

	t.send(dest, payload)
	return id, nil
}

// Confirm removes an acknowledged delivery from the outbox and stops
// its retries. Unknown IDs are ignored: retries race acks.
func (t *Tracker) Confirm(deliveryID int64) error {
	t.mu.Lock()
	delete(t.pending, deliveryID)
	t.mu.Unlock()
	return t.outbox.ConfirmPending(t.senderKey, deliveryID)
}

// PendingCount reports the number of unacknowledged deliveries.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Start launches the resend loop. Stop terminates it; in-flight sends
// are not waited for.
func (t *Tracker) Start() {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.cfg.BaseDelay)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.resendDue()
			}
		}
	}()
}

// Stop terminates the resend loop and waits for it to exit. Safe to
// call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) resendDue() {
	now := t.now()

	type resend struct {
		id      int64
		dest    ident.ID
		payload []byte
	}
	var due []resend
	var dropped []int64

	t.mu.Lock()
	for id, p := range t.pending {
		if p.nextAt.After(now) {
			continue
		}
		p.attempts++
		if t.cfg.MaxAttempts > 0 && p.attempts > t.cfg.MaxAttempts {
			dropped = append(dropped, id)
			delete(t.pending, id)
			continue
		}
		delay := t.cfg.BaseDelay << uint(p.attempts)
		if delay > t.cfg.MaxDelay {
			delay = t.cfg.MaxDelay
		}
		p.nextAt = now.Add(delay)
		due = append(due, resend{id: id, dest: p.dest, payload: p.payload})
	}
	t.mu.Unlock()

	for _, r := range due {
		t.send(r.dest, r.payload)
	}
	for _, id := range dropped {
		t.log.Warn("delivery exceeded max attempts, dropping",
			"sender", t.senderKey, "delivery_id", id, "max_attempts", t.cfg.MaxAttempts)
		if err := t.outbox.ConfirmPending(t.senderKey, id); err != nil {
			t.log.Warn("failed to drop delivery from outbox",
				"sender", t.senderKey, "delivery_id", id, "error", err)
		}
	}
}
