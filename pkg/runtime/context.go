package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
)

// Context is a behavior's handle on its runtime during Bootstrap and
// HandleCommand. It is only valid on the entity's own goroutine.
type Context struct {
	e *Entity

	// storageFailed marks a write-path storage error so the loop
	// stops the entity instead of absorbing the handler error.
	storageFailed bool
}

// ID returns the hosting entity's ID.
func (c *Context) ID() ident.ID { return c.e.id }

// Logger returns the entity-scoped logger.
func (c *Context) Logger() *slog.Logger { return c.e.log }

// Persist journals one event and, once the append is durable, applies
// it to the behavior state. The effect is never visible before the
// append returns. A storage error aborts the current command and stops
// the entity.
func (c *Context) Persist(ev event.Event) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		c.storageFailed = true
		return fmt.Errorf("encode event: %w", err)
	}
	seq, err := c.e.deps.Journal.Append(c.e.key, payload)
	if err != nil {
		c.storageFailed = true
		return fmt.Errorf("journal append: %w", err)
	}
	c.e.lastSeq = seq
	c.e.behavior.ApplyEvent(ev)
	if c.e.deps.Sink != nil {
		c.e.deps.Sink(c.e.id, seq, ev)
	}
	return nil
}

// Send delivers a command to another entity at-least-once: the
// delivery is persisted, sent, and retried until acknowledged.
func (c *Context) Send(dest ident.ID, cmd message.Command) error {
	_, err := c.e.tracker.Deliver(dest, func(deliveryID int64) []byte {
		env := message.Envelope{
			To:      dest,
			From:    c.e.id,
			Request: &message.Request{DeliveryID: deliveryID, Command: cmd},
		}
		payload, merr := message.Encode(env)
		if merr != nil {
			// Unencodable commands are a programming error; the
			// empty payload will be dropped by the transport.
			c.e.log.Error("encode outbound command failed", "dest", string(dest), "error", merr)
			return nil
		}
		return payload
	})
	if err != nil {
		c.storageFailed = true
		return fmt.Errorf("deliver to %s: %w", dest, err)
	}
	return nil
}

// SendSelf enqueues a command into the entity's own mailbox without
// delivery tracking. Self-messages are process-local and need neither
// retries nor dedup. Enqueue never blocks, so the self-message goes
// in right away, behind whatever the mailbox already holds.
func (c *Context) SendSelf(cmd message.Command) {
	c.e.Enqueue(message.Envelope{
		To:      c.e.id,
		Request: &message.Request{Command: cmd},
	})
}

// Now returns the wall clock; simulation time travels in TimeTick
// commands.
func (c *Context) Now() time.Time { return time.Now() }
