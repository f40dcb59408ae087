package event

import (
	"encoding/json"
	"fmt"
)

// envelope is the journaled wire form: a type discriminator plus the
// variant's own JSON. Adding a variant extends the registry; existing
// rows never change shape (additive evolution only).
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func typeName(e Event) string {
	switch e.(type) {
	case IdentityArrived:
		return "identity_arrived"
	case NoDuplicate:
		return "no_duplicate"
	case MobileEntityArrived:
		return "mobile_entity_arrived"
	case MobileEntityGone:
		return "mobile_entity_gone"
	case MobileEntitySleeping:
		return "mobile_entity_sleeping"
	case MobileEntityWakingUp:
		return "mobile_entity_waking_up"
	case LaneAdmissionAccepted:
		return "lane_admission_accepted"
	case LaneSlotFreed:
		return "lane_slot_freed"
	case LastVehicleCleared:
		return "last_vehicle_cleared"
	case CrossroadTokenGranted:
		return "crossroad_token_granted"
	case CrossroadTokenReleased:
		return "crossroad_token_released"
	case CrossingRequestQueued:
		return "crossing_request_queued"
	case CrossingEntered:
		return "crossing_entered"
	case CrossingLeft:
		return "crossing_left"
	case CrossingPhaseFlipped:
		return "crossing_phase_flipped"
	case StopDwellStarted:
		return "stop_dwell_started"
	case StopDwellEnded:
		return "stop_dwell_ended"
	case RouteAssigned:
		return "route_assigned"
	case StepAdvanced:
		return "step_advanced"
	case NeighborsChanged:
		return "neighbors_changed"
	}
	return ""
}

// Marshal encodes an event into its journaled form.
func Marshal(e Event) ([]byte, error) {
	name := typeName(e)
	if name == "" {
		return nil, fmt.Errorf("event: unregistered type %T", e)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", name, err)
	}
	return json.Marshal(envelope{Type: name, Data: data})
}

// Unmarshal decodes a journaled event. An unknown type discriminator
// is a structural error: the journal contains something this build
// cannot replay.
func Unmarshal(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}
	var e Event
	switch env.Type {
	case "identity_arrived":
		e = decodeInto[IdentityArrived](env.Data)
	case "no_duplicate":
		e = decodeInto[NoDuplicate](env.Data)
	case "mobile_entity_arrived":
		e = decodeInto[MobileEntityArrived](env.Data)
	case "mobile_entity_gone":
		e = decodeInto[MobileEntityGone](env.Data)
	case "mobile_entity_sleeping":
		e = decodeInto[MobileEntitySleeping](env.Data)
	case "mobile_entity_waking_up":
		e = decodeInto[MobileEntityWakingUp](env.Data)
	case "lane_admission_accepted":
		e = decodeInto[LaneAdmissionAccepted](env.Data)
	case "lane_slot_freed":
		e = decodeInto[LaneSlotFreed](env.Data)
	case "last_vehicle_cleared":
		e = decodeInto[LastVehicleCleared](env.Data)
	case "crossroad_token_granted":
		e = decodeInto[CrossroadTokenGranted](env.Data)
	case "crossroad_token_released":
		e = decodeInto[CrossroadTokenReleased](env.Data)
	case "crossing_request_queued":
		e = decodeInto[CrossingRequestQueued](env.Data)
	case "crossing_entered":
		e = decodeInto[CrossingEntered](env.Data)
	case "crossing_left":
		e = decodeInto[CrossingLeft](env.Data)
	case "crossing_phase_flipped":
		e = decodeInto[CrossingPhaseFlipped](env.Data)
	case "stop_dwell_started":
		e = decodeInto[StopDwellStarted](env.Data)
	case "stop_dwell_ended":
		e = decodeInto[StopDwellEnded](env.Data)
	case "route_assigned":
		e = decodeInto[RouteAssigned](env.Data)
	case "step_advanced":
		e = decodeInto[StepAdvanced](env.Data)
	case "neighbors_changed":
		e = decodeInto[NeighborsChanged](env.Data)
	default:
		return nil, fmt.Errorf("event: unknown journaled type %q", env.Type)
	}
	if e == nil {
		return nil, fmt.Errorf("event: decode %s: bad payload", env.Type)
	}
	return e, nil
}

func decodeInto[T Event](data json.RawMessage) Event {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
