// Package event defines the journaled event union for gridlock
// entities.
//
// Events are the only thing the runtime persists: every state
// mutation is first appended to the journal as one of these variants
// and applied to memory only once the append is durable. Events are
// immutable after journaling; recovery replays them in append order
// through the same apply path.
package event

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/ident"
)

// TimeValue is a simulation clock reading carried by time ticks and
// wake-up schedules.
type TimeValue int64

// Event is the marker interface over all journaled variants.
type Event interface{ isEvent() }

// IdentityArrived records that an immovable bound to its map record.
type IdentityArrived struct {
	ID ident.ID `json:"id"`
}

func (IdentityArrived) isEvent() {}

// NoDuplicate records acceptance of a delivery: once journaled, the
// receiver's dedup filter for SenderID is at least DeliveryID and any
// replay of the same delivery is discarded.
type NoDuplicate struct {
	SenderID   ident.ID `json:"sender_id"`
	DeliveryID int64    `json:"delivery_id"`
}

func (NoDuplicate) isEvent() {}

// MobileEntityArrived records a mobile joining this entity's handled set.
type MobileEntityArrived struct {
	ID ident.ID `json:"id"`
}

func (MobileEntityArrived) isEvent() {}

// MobileEntityGone records a mobile leaving this entity's handled set.
type MobileEntityGone struct {
	ID ident.ID `json:"id"`
}

func (MobileEntityGone) isEvent() {}

// MobileEntitySleeping records a mobile going dormant until WakeupTime.
type MobileEntitySleeping struct {
	ID         ident.ID  `json:"id"`
	WakeupTime TimeValue `json:"wakeup_time"`
}

func (MobileEntitySleeping) isEvent() {}

// MobileEntityWakingUp records a sleeper leaving the sleepers map.
type MobileEntityWakingUp struct {
	ID ident.ID `json:"id"`
}

func (MobileEntityWakingUp) isEvent() {}

// LaneAdmissionAccepted records a lane admitting a vehicle behind the
// previous last entrant.
type LaneAdmissionAccepted struct {
	VehicleID     ident.ID `json:"vehicle_id"`
	PredecessorID ident.ID `json:"predecessor_id,omitempty"`
}

func (LaneAdmissionAccepted) isEvent() {}

// LaneSlotFreed records the slot behind a known vehicle becoming free.
type LaneSlotFreed struct {
	VehicleID ident.ID `json:"vehicle_id"`
}

func (LaneSlotFreed) isEvent() {}

// LastVehicleCleared records the lane dropping its last-entrant pointer.
type LastVehicleCleared struct {
	VehicleID ident.ID `json:"vehicle_id"`
}

func (LastVehicleCleared) isEvent() {}

// CrossroadTokenGranted records the crossroad handing its token to a
// vehicle.
type CrossroadTokenGranted struct {
	VehicleID ident.ID `json:"vehicle_id"`
}

func (CrossroadTokenGranted) isEvent() {}

// CrossroadTokenReleased records the token returning to the crossroad.
type CrossroadTokenReleased struct {
	VehicleID ident.ID `json:"vehicle_id"`
}

func (CrossroadTokenReleased) isEvent() {}

// CrossingRequestQueued records a pedestrian or vehicle joining a
// pedestrian-crossing queue.
type CrossingRequestQueued struct {
	RequesterID ident.ID `json:"requester_id"`
	Pedestrian  bool     `json:"pedestrian"`
}

func (CrossingRequestQueued) isEvent() {}

// CrossingEntered records an admitted requester starting to cross.
type CrossingEntered struct {
	RequesterID ident.ID `json:"requester_id"`
	Pedestrian  bool     `json:"pedestrian"`
}

func (CrossingEntered) isEvent() {}

// CrossingLeft records a crosser clearing the crossing.
type CrossingLeft struct {
	RequesterID ident.ID `json:"requester_id"`
	Pedestrian  bool     `json:"pedestrian"`
}

func (CrossingLeft) isEvent() {}

// CrossingPhaseFlipped records the crossing switching between the
// vehicle phase and the pedestrian phase.
type CrossingPhaseFlipped struct {
	VehiclePass bool `json:"vehicle_pass"`
}

func (CrossingPhaseFlipped) isEvent() {}

// StopDwellStarted records a bus or tram being held at a stop.
type StopDwellStarted struct {
	VehicleID ident.ID  `json:"vehicle_id"`
	Departure TimeValue `json:"departure"`
}

func (StopDwellStarted) isEvent() {}

// StopDwellEnded records the dwell condition being met and the vehicle
// released.
type StopDwellEnded struct {
	VehicleID ident.ID `json:"vehicle_id"`
}

func (StopDwellEnded) isEvent() {}

// RouteAssigned records a mobile receiving its route descriptor from
// its host immovable. The route is stored as its JSON form so the
// journal stays self-contained.
type RouteAssigned struct {
	HostID    ident.ID        `json:"host_id"`
	RouteKind string          `json:"route_kind"`
	Route     json.RawMessage `json:"route"`
}

func (RouteAssigned) isEvent() {}

// StepAdvanced records the mobile's cursor moving to the given segment
// position after one step of progress.
type StepAdvanced struct {
	Segment string `json:"segment"`
	Index   int    `json:"index"`
}

func (StepAdvanced) isEvent() {}

// NeighborsChanged records an update to the mobile's predecessor and
// successor links.
type NeighborsChanged struct {
	NextVehicleID       ident.ID `json:"next_vehicle_id,omitempty"`
	PreviousVehicleID   ident.ID `json:"previous_vehicle_id,omitempty"`
	PredecessorGoneSent bool     `json:"predecessor_gone_sent"`
}

func (NeighborsChanged) isEvent() {}
