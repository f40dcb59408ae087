// Package runtime executes one persistent entity's command and
// recovery loop.
//
// Every entity is a single-threaded cooperative executor over a
// mailbox: commands are processed strictly one at a time in arrival
// order, and every journal append is a suspension point — the next
// command is not accepted until the append is durable.
//
// The persistence discipline is persist-then-apply: a handler journals
// an event and the runtime applies it to in-memory state only once the
// append returns, so a crash can never leave memory ahead of the
// journal. Recovery loads the latest snapshot, replays the journal
// tail through the same apply path, performs one bootstrap action, and
// only then starts draining the mailbox; envelopes arriving during
// recovery wait in it.
package runtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/daviddao/gridlock/pkg/delivery"
	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/store"
)

// Behavior is the domain half of an entity: the runtime owns
// journaling, snapshotting, dedup and delivery; the behavior owns
// state and protocol.
//
// ApplyEvent is the only place state mutates. It runs both live
// (inside the persist callback) and during replay, and therefore must
// not produce side effects — sends belong in HandleCommand.
type Behavior interface {
	// Bootstrap runs once, after recovery completes and before the
	// first mailbox envelope. Immovables use it to respawn children.
	Bootstrap(ctx *Context) error

	// HandleCommand dispatches one deduplicated command. It may
	// persist events via ctx and send via ctx; it must not mutate
	// state directly.
	HandleCommand(ctx *Context, from ident.ID, cmd message.Command) error

	// ApplyEvent folds one journaled event into in-memory state.
	ApplyEvent(ev event.Event)

	// SnapshotState encodes the behavior state for a snapshot.
	SnapshotState() ([]byte, error)

	// RestoreState decodes a snapshot produced by SnapshotState.
	RestoreState(state []byte) error
}

// Transport moves envelopes between entities. Sends are non-blocking
// and unreliable; reliability is the delivery tracker's job.
type Transport interface {
	Send(env message.Envelope)
}

// EventSink observes applied events, e.g. for the visualization
// stream. Replayed events are not re-observed.
type EventSink func(id ident.ID, seq int64, ev event.Event)

// Config tunes one entity's runtime.
type Config struct {
	// SnapshotInterval is the snapshot timer period (default 10s).
	SnapshotInterval time.Duration
	// MailboxSize is the envelope buffer length (default 64).
	MailboxSize int
	// Delivery configures the at-least-once sender.
	Delivery delivery.Config
}

// Deps are the process-wide services injected into every entity.
type Deps struct {
	Journal   store.EventJournal
	Snapshots store.SnapshotStore
	Outbox    store.Outbox
	Transport Transport
	Log       *slog.Logger
	// Sink, when set, observes live applied events.
	Sink EventSink
	// OnFailure is told when the entity stops on a structural or
	// storage error; the shard supervisor decides the restart.
	OnFailure func(id ident.ID, err error)
}

type mailboxItem struct {
	env message.Envelope
}

// Entity hosts one persistent actor.
type Entity struct {
	id       ident.ID
	key      string
	behavior Behavior
	deps     Deps
	cfg      Config

	filter  *delivery.Filter
	tracker *delivery.Tracker
	log     *slog.Logger

	mailbox chan mailboxItem
	stop    chan struct{}
	done    chan struct{}

	// loop-goroutine state
	lastSeq         int64
	prevSnapshotSeq int64
	pendingDeletes  []int64
}

// snapshotEnvelope wraps the behavior state together with the dedup
// marks so both recover from one blob.
type snapshotEnvelope struct {
	Filter map[ident.ID]int64 `json:"filter,omitempty"`
	State  json.RawMessage    `json:"state"`
}

// New constructs an entity. Start must be called before Enqueue
// delivers anything.
func New(id ident.ID, behavior Behavior, deps Deps, cfg Config) *Entity {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 10 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	e := &Entity{
		id:       id,
		key:      ident.PersistenceKey(id),
		behavior: behavior,
		deps:     deps,
		cfg:      cfg,
		filter:   delivery.NewFilter(),
		log:      deps.Log.With("entity", string(id)),
		mailbox:  make(chan mailboxItem, cfg.MailboxSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.tracker = delivery.NewTracker(e.key, deps.Outbox, e.sendRaw, cfg.Delivery, e.log)
	return e
}

// ID returns the entity's logical ID.
func (e *Entity) ID() ident.ID { return e.id }

// Start recovers the entity and launches its loop. A recovery failure
// is fatal: the entity never starts and the error propagates to the
// supervisor.
func (e *Entity) Start() error {
	if err := e.recover(); err != nil {
		return fmt.Errorf("recover %s: %w", e.key, err)
	}
	if err := e.tracker.Reload(); err != nil {
		return fmt.Errorf("reload outbox %s: %w", e.key, err)
	}
	e.tracker.Start()
	go e.loop()
	return nil
}

// Stop terminates the loop. A pending snapshot is neither cancelled
// nor waited for.
func (e *Entity) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	<-e.done
	e.tracker.Stop()
}

// Enqueue places one envelope into the mailbox. It never blocks:
// entity loops enqueue into each other, and a blocking send from a
// full mailbox into a full mailbox would wedge both loops. An
// overflowing or stopped mailbox drops the envelope with a log line —
// tracked deliveries are re-sent by the sender's retry timer.
func (e *Entity) Enqueue(env message.Envelope) {
	select {
	case <-e.stop:
		e.log.Debug("mailbox closed, dropping envelope", "from", string(env.From))
		return
	default:
	}
	select {
	case e.mailbox <- mailboxItem{env: env}:
	default:
		e.log.Warn("mailbox full, dropping envelope", "from", string(env.From))
	}
}

func (e *Entity) recover() error {
	snap, err := e.deps.Snapshots.LatestSnapshot(e.key)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		var env snapshotEnvelope
		if err := json.Unmarshal(snap.State, &env); err != nil {
			return fmt.Errorf("decode snapshot seq %d: %w", snap.SeqNr, err)
		}
		e.filter.Restore(env.Filter)
		if err := e.behavior.RestoreState(env.State); err != nil {
			return fmt.Errorf("restore state seq %d: %w", snap.SeqNr, err)
		}
		e.lastSeq = snap.SeqNr
		e.prevSnapshotSeq = snap.SeqNr
	}

	records, err := e.deps.Journal.Replay(e.key, e.lastSeq+1)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	for _, rec := range records {
		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", rec.SeqNr, err)
		}
		e.applyRecovered(ev)
		e.lastSeq = rec.SeqNr
	}
	return nil
}

func (e *Entity) applyRecovered(ev event.Event) {
	if nd, ok := ev.(event.NoDuplicate); ok {
		e.filter.Accept(nd.SenderID, nd.DeliveryID)
		return
	}
	e.behavior.ApplyEvent(ev)
}

func (e *Entity) loop() {
	defer close(e.done)

	ctx := &Context{e: e}
	if err := e.behavior.Bootstrap(ctx); err != nil {
		e.fail(fmt.Errorf("bootstrap: %w", err))
		return
	}

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.saveSnapshot()
		case item := <-e.mailbox:
			if !e.handle(ctx, item.env) {
				return
			}
		}
	}
}

// handle processes one envelope; it returns false when the entity must
// stop (storage failure on the write path).
func (e *Entity) handle(ctx *Context, env message.Envelope) bool {
	if env.Ack != nil {
		if err := e.tracker.Confirm(env.Ack.DeliveryID); err != nil {
			e.log.Warn("confirm delivery failed", "delivery_id", env.Ack.DeliveryID, "error", err)
		}
		return true
	}
	if env.Request == nil {
		e.log.Error("envelope with neither request nor ack", "from", string(env.From))
		return true
	}

	req := env.Request
	persistent := env.From != ""

	// At-least-once: acknowledge receipt before anything else.
	if persistent {
		e.sendEnvelope(message.Envelope{To: env.From, From: e.id, Ack: &message.Ack{DeliveryID: req.DeliveryID}})

		if !e.filter.IsNew(env.From, req.DeliveryID) {
			e.log.Debug("duplicate delivery", "from", string(env.From), "delivery_id", req.DeliveryID)
			return true
		}
		payload, err := event.Marshal(event.NoDuplicate{SenderID: env.From, DeliveryID: req.DeliveryID})
		if err != nil {
			e.fail(fmt.Errorf("encode NoDuplicate: %w", err))
			return false
		}
		seq, err := e.deps.Journal.Append(e.key, payload)
		if err != nil {
			e.fail(fmt.Errorf("journal NoDuplicate: %w", err))
			return false
		}
		e.lastSeq = seq
		e.filter.Accept(env.From, req.DeliveryID)
	}

	err := e.behavior.HandleCommand(ctx, env.From, req.Command)
	if ctx.storageFailed {
		if err == nil {
			err = fmt.Errorf("storage failure during %T", req.Command)
		}
		e.fail(err)
		return false
	}
	if err != nil {
		// Domain-invariant violations are absorbed: a restart would
		// replay the same offending command.
		e.log.Error("command failed", "from", string(env.From), "command", fmt.Sprintf("%T", req.Command), "error", err)
	}
	return true
}

func (e *Entity) saveSnapshot() {
	if e.lastSeq == e.prevSnapshotSeq {
		return
	}
	state, err := e.behavior.SnapshotState()
	if err != nil {
		e.log.Warn("snapshot state encode failed", "error", err)
		return
	}
	blob, err := json.Marshal(snapshotEnvelope{Filter: e.filter.Snapshot(), State: state})
	if err != nil {
		e.log.Warn("snapshot envelope encode failed", "error", err)
		return
	}
	seq := e.lastSeq
	if err := e.deps.Snapshots.SaveSnapshot(e.key, seq, time.Now(), blob); err != nil {
		e.log.Warn("snapshot save failed", "seq", seq, "error", err)
		return
	}

	if e.prevSnapshotSeq > 0 {
		e.pendingDeletes = append(e.pendingDeletes, e.prevSnapshotSeq)
	}
	remaining := e.pendingDeletes[:0]
	for _, old := range e.pendingDeletes {
		if err := e.deps.Snapshots.DeleteSnapshot(e.key, old); err != nil {
			e.log.Warn("snapshot delete failed, will retry", "seq", old, "error", err)
			remaining = append(remaining, old)
		}
	}
	e.pendingDeletes = remaining
	e.prevSnapshotSeq = seq

	// The journal prefix is superseded only once the snapshot is durable.
	if err := e.deps.Journal.Truncate(e.key, seq); err != nil {
		e.log.Warn("journal truncate failed", "up_to", seq, "error", err)
	}
}

func (e *Entity) fail(err error) {
	e.log.Error("entity stopping", "error", err)
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	if e.deps.OnFailure != nil {
		e.deps.OnFailure(e.id, err)
	}
}

func (e *Entity) sendRaw(dest ident.ID, payload []byte) {
	env, err := message.Decode(payload)
	if err != nil {
		e.log.Error("outbox payload undecodable", "dest", string(dest), "error", err)
		return
	}
	e.sendEnvelope(env)
}

func (e *Entity) sendEnvelope(env message.Envelope) {
	if e.deps.Transport == nil {
		return
	}
	e.deps.Transport.Send(env)
}
