package traffic

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
)

// crossroadProtocol is a mutual-exclusion arbiter: one token, one
// holder, a FIFO of waiters.
type crossroadProtocol struct {
	TokenHolder ident.ID   `json:"token_holder,omitempty"`
	Queue       []ident.ID `json:"queue,omitempty"`
}

func newCrossroadProtocol() *crossroadProtocol { return &crossroadProtocol{} }

func (p *crossroadProtocol) handleCommand(ctx *runtime.Context, imm *Immovable, from ident.ID, cmd message.Command) (bool, error) {
	switch c := cmd.(type) {
	case message.AdmissionRequest:
		if p.TokenHolder == "" {
			if err := ctx.Persist(event.CrossroadTokenGranted{VehicleID: c.MobileID}); err != nil {
				return true, err
			}
			return true, ctx.Send(c.MobileID, message.AdmissionGranted{ByID: imm.id})
		}
		if p.TokenHolder == c.MobileID || p.queued(c.MobileID) {
			return true, nil
		}
		return true, ctx.Persist(event.CrossingRequestQueued{RequesterID: c.MobileID})

	case message.LeaveNotice:
		if p.TokenHolder != c.MobileID {
			ctx.Logger().Warn("leave notice without token", "vehicle", string(c.MobileID))
			return true, nil
		}
		if err := ctx.Persist(event.CrossroadTokenReleased{VehicleID: c.MobileID}); err != nil {
			return true, err
		}
		if len(p.Queue) == 0 {
			return true, nil
		}
		next := p.Queue[0]
		if err := ctx.Persist(event.CrossroadTokenGranted{VehicleID: next}); err != nil {
			return true, err
		}
		return true, ctx.Send(next, message.AdmissionGranted{ByID: imm.id})
	}
	return false, nil
}

func (p *crossroadProtocol) queued(id ident.ID) bool {
	for _, q := range p.Queue {
		if q == id {
			return true
		}
	}
	return false
}

func (p *crossroadProtocol) applyEvent(ev event.Event) bool {
	switch e := ev.(type) {
	case event.CrossroadTokenGranted:
		if len(p.Queue) > 0 && p.Queue[0] == e.VehicleID {
			p.Queue = p.Queue[1:]
		}
		p.TokenHolder = e.VehicleID
		return true
	case event.CrossroadTokenReleased:
		if p.TokenHolder == e.VehicleID {
			p.TokenHolder = ""
		}
		return true
	case event.CrossingRequestQueued:
		p.Queue = append(p.Queue, e.RequesterID)
		return true
	}
	return false
}

func (p *crossroadProtocol) onTick(*runtime.Context, *Immovable, event.TimeValue) error { return nil }

func (p *crossroadProtocol) snapshot() (json.RawMessage, error) { return json.Marshal(p) }

func (p *crossroadProtocol) restore(raw json.RawMessage) error { return json.Unmarshal(raw, p) }
