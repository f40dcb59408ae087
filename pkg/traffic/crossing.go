package traffic

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
)

// crossingProtocol runs a pedestrian crossing's turn-taking. One side
// holds the crossing at a time: vehicles while VehiclePass, pedestrians
// otherwise. Requesters on the active side enter immediately; the
// others queue. The phase flips when the active side drains — no one
// left crossing and no one left waiting on it — and the whole opposing
// queue is admitted.
type crossingProtocol struct {
	VehiclePass        bool       `json:"vehicle_pass"`
	PedestrianRequests []ident.ID `json:"pedestrian_requests,omitempty"`
	VehicleRequests    []ident.ID `json:"vehicle_requests,omitempty"`
	NumCrossing        int        `json:"num_crossing"`
}

func newCrossingProtocol() *crossingProtocol {
	// Vehicles hold a fresh crossing.
	return &crossingProtocol{VehiclePass: true}
}

func (p *crossingProtocol) handleCommand(ctx *runtime.Context, imm *Immovable, from ident.ID, cmd message.Command) (bool, error) {
	switch c := cmd.(type) {
	case message.AdmissionRequest:
		if p.sideActive(c.Pedestrian) {
			if err := ctx.Persist(event.CrossingEntered{RequesterID: c.MobileID, Pedestrian: c.Pedestrian}); err != nil {
				return true, err
			}
			return true, ctx.Send(c.MobileID, message.AdmissionGranted{ByID: imm.id})
		}
		if p.waiting(c.MobileID, c.Pedestrian) {
			return true, nil
		}
		return true, ctx.Persist(event.CrossingRequestQueued{RequesterID: c.MobileID, Pedestrian: c.Pedestrian})

	case message.LeaveNotice:
		if err := ctx.Persist(event.CrossingLeft{RequesterID: c.MobileID, Pedestrian: c.Pedestrian}); err != nil {
			return true, err
		}
		return true, p.maybeFlip(ctx, imm)
	}
	return false, nil
}

func (p *crossingProtocol) sideActive(pedestrian bool) bool {
	return pedestrian != p.VehiclePass
}

func (p *crossingProtocol) waiting(id ident.ID, pedestrian bool) bool {
	queue := p.VehicleRequests
	if pedestrian {
		queue = p.PedestrianRequests
	}
	for _, q := range queue {
		if q == id {
			return true
		}
	}
	return false
}

// maybeFlip hands the crossing to the other side once the active one
// has drained, then admits every waiter of the new phase.
func (p *crossingProtocol) maybeFlip(ctx *runtime.Context, imm *Immovable) error {
	if p.NumCrossing > 0 {
		return nil
	}
	opposing := p.PedestrianRequests
	if !p.VehiclePass {
		opposing = p.VehicleRequests
	}
	if len(opposing) == 0 {
		return nil
	}
	if err := ctx.Persist(event.CrossingPhaseFlipped{VehiclePass: !p.VehiclePass}); err != nil {
		return err
	}
	admitted := append([]ident.ID(nil), opposing...)
	pedestrian := !p.VehiclePass // after the flip, the admitted side
	for _, id := range admitted {
		if err := ctx.Persist(event.CrossingEntered{RequesterID: id, Pedestrian: pedestrian}); err != nil {
			return err
		}
		if err := ctx.Send(id, message.AdmissionGranted{ByID: imm.id}); err != nil {
			return err
		}
	}
	return nil
}

func (p *crossingProtocol) applyEvent(ev event.Event) bool {
	switch e := ev.(type) {
	case event.CrossingRequestQueued:
		if e.Pedestrian {
			p.PedestrianRequests = append(p.PedestrianRequests, e.RequesterID)
		} else {
			p.VehicleRequests = append(p.VehicleRequests, e.RequesterID)
		}
		return true
	case event.CrossingEntered:
		p.NumCrossing++
		if e.Pedestrian {
			p.PedestrianRequests = remove(p.PedestrianRequests, e.RequesterID)
		} else {
			p.VehicleRequests = remove(p.VehicleRequests, e.RequesterID)
		}
		return true
	case event.CrossingLeft:
		if p.NumCrossing > 0 {
			p.NumCrossing--
		}
		return true
	case event.CrossingPhaseFlipped:
		p.VehiclePass = e.VehiclePass
		return true
	}
	return false
}

func remove(queue []ident.ID, id ident.ID) []ident.ID {
	kept := queue[:0]
	for _, q := range queue {
		if q != id {
			kept = append(kept, q)
		}
	}
	return kept
}

func (p *crossingProtocol) onTick(*runtime.Context, *Immovable, event.TimeValue) error { return nil }

func (p *crossingProtocol) snapshot() (json.RawMessage, error) { return json.Marshal(p) }

func (p *crossingProtocol) restore(raw json.RawMessage) error { return json.Unmarshal(raw, p) }
