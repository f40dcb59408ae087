package traffic

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/worldmap"
)

// stopProtocol holds arriving buses and trams until their departure
// time. The dwell interval comes from the stop's map record; the
// departure for each dweller is computed against the immovable's last
// observed tick and released by the tick sweep.
type stopProtocol struct {
	Dwell    event.TimeValue              `json:"dwell"`
	Dwelling map[ident.ID]event.TimeValue `json:"dwelling,omitempty"`
}

func newStopProtocol(id ident.ID, world *worldmap.Map) *stopProtocol {
	p := &stopProtocol{Dwelling: make(map[ident.ID]event.TimeValue)}
	if bs, ok := world.BusStop(id); ok {
		p.Dwell = bs.Dwell
	} else if ts, ok := world.TramStop(id); ok {
		p.Dwell = ts.Dwell
	}
	return p
}

func (p *stopProtocol) handleCommand(ctx *runtime.Context, imm *Immovable, from ident.ID, cmd message.Command) (bool, error) {
	switch c := cmd.(type) {
	case message.AdmissionRequest:
		if _, dwelling := p.Dwelling[c.MobileID]; dwelling {
			return true, nil
		}
		departure := imm.lastTick + p.Dwell
		return true, ctx.Persist(event.StopDwellStarted{VehicleID: c.MobileID, Departure: departure})
	case message.LeaveNotice:
		// Vehicles clear the stop after being released; nothing to
		// track beyond the dwell table.
		return true, nil
	}
	return false, nil
}

func (p *stopProtocol) applyEvent(ev event.Event) bool {
	switch e := ev.(type) {
	case event.StopDwellStarted:
		p.Dwelling[e.VehicleID] = e.Departure
		return true
	case event.StopDwellEnded:
		delete(p.Dwelling, e.VehicleID)
		return true
	}
	return false
}

// onTick releases every dweller whose departure time has passed.
func (p *stopProtocol) onTick(ctx *runtime.Context, imm *Immovable, t event.TimeValue) error {
	for vid, departure := range p.Dwelling {
		if departure > t {
			continue
		}
		if err := ctx.Persist(event.StopDwellEnded{VehicleID: vid}); err != nil {
			return err
		}
		if err := ctx.Send(vid, message.AdmissionGranted{ByID: imm.id}); err != nil {
			return err
		}
	}
	return nil
}

func (p *stopProtocol) snapshot() (json.RawMessage, error) { return json.Marshal(p) }

func (p *stopProtocol) restore(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return err
	}
	if p.Dwelling == nil {
		p.Dwelling = make(map[ident.ID]event.TimeValue)
	}
	return nil
}
