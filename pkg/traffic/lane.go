package traffic

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
)

// laneProtocol admits vehicles in arrival order and keeps the
// predecessor chain. VehicleFree[v] reports whether the slot behind
// the known vehicle v is free; LastVehicle is the most recent entrant
// and becomes the predecessor of the next one.
type laneProtocol struct {
	Vehicles    []ident.ID        `json:"vehicles,omitempty"`
	VehicleFree map[ident.ID]bool `json:"vehicle_free,omitempty"`
	LastVehicle ident.ID          `json:"last_vehicle,omitempty"`
}

func newLaneProtocol() *laneProtocol {
	return &laneProtocol{VehicleFree: make(map[ident.ID]bool)}
}

func (p *laneProtocol) handleCommand(ctx *runtime.Context, imm *Immovable, from ident.ID, cmd message.Command) (bool, error) {
	switch c := cmd.(type) {
	case message.AdmissionRequest:
		pred := p.LastVehicle
		if err := ctx.Persist(event.LaneAdmissionAccepted{VehicleID: c.MobileID, PredecessorID: pred}); err != nil {
			return true, err
		}
		if err := ctx.Send(c.MobileID, message.AdmissionGranted{ByID: imm.id}); err != nil {
			return true, err
		}
		// Wire the predecessor/successor links on both ends.
		if pred != "" {
			if err := ctx.Send(c.MobileID, message.NeighborAssign{PreviousVehicleID: pred}); err != nil {
				return true, err
			}
			if err := ctx.Send(pred, message.NeighborAssign{NextVehicleID: c.MobileID}); err != nil {
				return true, err
			}
		}
		return true, nil

	case message.LeaveNotice:
		if !p.knows(c.MobileID) {
			ctx.Logger().Warn("leave notice from unknown vehicle", "vehicle", string(c.MobileID))
			return true, nil
		}
		return true, ctx.Persist(event.LaneSlotFreed{VehicleID: c.MobileID})

	case message.HandleLastVehicle:
		if p.LastVehicle != c.VehicleID {
			return true, nil
		}
		return true, ctx.Persist(event.LastVehicleCleared{VehicleID: c.VehicleID})
	}
	return false, nil
}

func (p *laneProtocol) knows(id ident.ID) bool {
	for _, v := range p.Vehicles {
		if v == id {
			return true
		}
	}
	return false
}

func (p *laneProtocol) applyEvent(ev event.Event) bool {
	switch e := ev.(type) {
	case event.LaneAdmissionAccepted:
		p.Vehicles = append(p.Vehicles, e.VehicleID)
		p.VehicleFree[e.VehicleID] = true
		if e.PredecessorID != "" {
			p.VehicleFree[e.PredecessorID] = false
		}
		p.LastVehicle = e.VehicleID
		return true
	case event.LaneSlotFreed:
		kept := p.Vehicles[:0]
		for i, v := range p.Vehicles {
			if v == e.VehicleID {
				// The slot behind the departed vehicle's predecessor
				// opens up again.
				if i > 0 {
					p.VehicleFree[p.Vehicles[i-1]] = true
				}
				continue
			}
			kept = append(kept, v)
		}
		p.Vehicles = kept
		delete(p.VehicleFree, e.VehicleID)
		return true
	case event.LastVehicleCleared:
		if p.LastVehicle == e.VehicleID {
			p.LastVehicle = ""
		}
		return true
	}
	return false
}

func (p *laneProtocol) onTick(*runtime.Context, *Immovable, event.TimeValue) error { return nil }

func (p *laneProtocol) snapshot() (json.RawMessage, error) { return json.Marshal(p) }

func (p *laneProtocol) restore(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return err
	}
	if p.VehicleFree == nil {
		p.VehicleFree = make(map[ident.ID]bool)
	}
	return nil
}
