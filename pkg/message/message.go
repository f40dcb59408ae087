// Package message defines the wire protocol between entities.
//
// All inter-entity traffic is a Request/Ack pair: a Request carries
// the sender's delivery ID and one command, and the receiver
// immediately answers with an Ack for that ID before even looking at
// the command. Commands are transient — they are never journaled;
// only the events a command produces are.
package message

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
)

// Command is the marker interface over all wire commands.
type Command interface{ isCommand() }

// Identity binds an immovable entity to its map record. Sent by the
// external injector.
type Identity struct {
	ID ident.ID `json:"id"`
}

func (Identity) isCommand() {}

// CreateMobileEntity asks an immovable to spawn a mobile child and
// hand it the given route. The route travels in its JSON form; the
// traffic layer owns the concrete shape.
type CreateMobileEntity struct {
	ID        ident.ID        `json:"id"`
	RouteKind string          `json:"route_kind"`
	Route     json.RawMessage `json:"route"`
}

func (CreateMobileEntity) isCommand() {}

// ReCreateMobileEntities is the self-addressed bootstrap an immovable
// sends after recovery completes: respawn every child in the handled
// set and resume each.
type ReCreateMobileEntities struct{}

func (ReCreateMobileEntities) isCommand() {}

// ReCreateMe asks the parent immovable to respawn the named mobile.
type ReCreateMe struct {
	ID ident.ID `json:"id"`
}

func (ReCreateMe) isCommand() {}

// MobileEntityAdd registers a mobile with a static entity's handled set.
type MobileEntityAdd struct {
	ID ident.ID `json:"id"`
}

func (MobileEntityAdd) isCommand() {}

// MobileEntityRemove removes a mobile from a static entity's handled set.
type MobileEntityRemove struct {
	ID ident.ID `json:"id"`
}

func (MobileEntityRemove) isCommand() {}

// PauseExecution tells the host immovable the sending mobile is going
// dormant until WakeupTime.
type PauseExecution struct {
	ID         ident.ID        `json:"id"`
	WakeupTime event.TimeValue `json:"wakeup_time"`
}

func (PauseExecution) isCommand() {}

// ResumeExecution restarts a mobile's step loop after spawn or wake-up.
type ResumeExecution struct{}

func (ResumeExecution) isCommand() {}

// HandleLastVehicle tells a lane to clear its last-entrant pointer if
// it still names the sender.
type HandleLastVehicle struct {
	VehicleID ident.ID `json:"vehicle_id"`
}

func (HandleLastVehicle) isCommand() {}

// MovableActorRequest asks whether the receiver currently handles the
// named mobile.
type MovableActorRequest struct {
	ID ident.ID `json:"id"`
}

func (MovableActorRequest) isCommand() {}

// MovableActorResponse answers a MovableActorRequest.
type MovableActorResponse struct {
	ID    ident.ID `json:"id"`
	Found bool     `json:"found"`
}

func (MovableActorResponse) isCommand() {}

// IpRequest asks an entity for its hosting node address.
type IpRequest struct{}

func (IpRequest) isCommand() {}

// IpResponse answers an IpRequest.
type IpResponse struct {
	Addr string `json:"addr"`
}

func (IpResponse) isCommand() {}

// AdmissionRequest asks a static entity for passage. Pedestrian
// distinguishes the two queues of a pedestrian crossing.
type AdmissionRequest struct {
	MobileID   ident.ID `json:"mobile_id"`
	Pedestrian bool     `json:"pedestrian"`
}

func (AdmissionRequest) isCommand() {}

// AdmissionGranted tells a waiting mobile it may proceed into ByID.
type AdmissionGranted struct {
	ByID ident.ID `json:"by_id"`
}

func (AdmissionGranted) isCommand() {}

// LeaveNotice tells a static entity the mobile has cleared it.
type LeaveNotice struct {
	MobileID   ident.ID `json:"mobile_id"`
	Pedestrian bool     `json:"pedestrian"`
}

func (LeaveNotice) isCommand() {}

// NeighborAssign tells a vehicle about a new predecessor or successor
// link on a shared lane. Empty fields leave the existing link alone.
type NeighborAssign struct {
	NextVehicleID     ident.ID `json:"next_vehicle_id,omitempty"`
	PreviousVehicleID ident.ID `json:"previous_vehicle_id,omitempty"`
}

func (NeighborAssign) isCommand() {}

// PredecessorGone tells a vehicle the one ahead of it has left the
// shared lane.
type PredecessorGone struct {
	PredecessorID ident.ID `json:"predecessor_id"`
}

func (PredecessorGone) isCommand() {}

// TimeTick carries a time-bus tick into an entity's mailbox.
type TimeTick struct {
	Value event.TimeValue `json:"value"`
}

func (TimeTick) isCommand() {}

// ToKind wraps a command for dispatch to a specific static kind; the
// receiver rejects it when its own kind differs ("We should not be
// here").
type ToKind struct {
	Kind    string  `json:"kind"`
	Command Command `json:"command"`
}

func (ToKind) isCommand() {}

// Request is the payload half of at-least-once delivery: the sender's
// delivery ID plus one command.
type Request struct {
	DeliveryID int64
	Command    Command
}

// Ack acknowledges receipt of the Request with the same delivery ID.
type Ack struct {
	DeliveryID int64 `json:"delivery_id"`
}

// Envelope is the routed unit: destination, sender, and exactly one of
// Request or Ack. A zero From marks a non-persistent sender (the
// injector), which gets no Ack and no dedup tracking.
type Envelope struct {
	To      ident.ID `json:"to"`
	From    ident.ID `json:"from,omitempty"`
	Request *Request `json:"request,omitempty"`
	Ack     *Ack     `json:"ack,omitempty"`
}
