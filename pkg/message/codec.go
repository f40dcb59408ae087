package message

import (
	"encoding/json"
	"fmt"
)

// commandEnvelope is the wire form of one command.
type commandEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func commandTypeName(c Command) string {
	switch c.(type) {
	case Identity:
		return "identity"
	case CreateMobileEntity:
		return "create_mobile_entity"
	case ReCreateMobileEntities:
		return "re_create_mobile_entities"
	case ReCreateMe:
		return "re_create_me"
	case MobileEntityAdd:
		return "mobile_entity_add"
	case MobileEntityRemove:
		return "mobile_entity_remove"
	case PauseExecution:
		return "pause_execution"
	case ResumeExecution:
		return "resume_execution"
	case HandleLastVehicle:
		return "handle_last_vehicle"
	case MovableActorRequest:
		return "movable_actor_request"
	case MovableActorResponse:
		return "movable_actor_response"
	case IpRequest:
		return "ip_request"
	case IpResponse:
		return "ip_response"
	case AdmissionRequest:
		return "admission_request"
	case AdmissionGranted:
		return "admission_granted"
	case LeaveNotice:
		return "leave_notice"
	case NeighborAssign:
		return "neighbor_assign"
	case PredecessorGone:
		return "predecessor_gone"
	case TimeTick:
		return "time_tick"
	case ToKind:
		return "to_kind"
	}
	return ""
}

func encodeCommand(c Command) (commandEnvelope, error) {
	name := commandTypeName(c)
	if name == "" {
		return commandEnvelope{}, fmt.Errorf("message: unregistered command %T", c)
	}
	var data []byte
	var err error
	if tk, ok := c.(ToKind); ok {
		inner, ierr := encodeCommand(tk.Command)
		if ierr != nil {
			return commandEnvelope{}, ierr
		}
		data, err = json.Marshal(struct {
			Kind    string          `json:"kind"`
			Command commandEnvelope `json:"command"`
		}{Kind: tk.Kind, Command: inner})
	} else {
		data, err = json.Marshal(c)
	}
	if err != nil {
		return commandEnvelope{}, fmt.Errorf("message: encode %s: %w", name, err)
	}
	return commandEnvelope{Type: name, Data: data}, nil
}

func decodeCommand(env commandEnvelope) (Command, error) {
	var c Command
	switch env.Type {
	case "identity":
		c = decodeInto[Identity](env.Data)
	case "create_mobile_entity":
		c = decodeInto[CreateMobileEntity](env.Data)
	case "re_create_mobile_entities":
		c = decodeInto[ReCreateMobileEntities](env.Data)
	case "re_create_me":
		c = decodeInto[ReCreateMe](env.Data)
	case "mobile_entity_add":
		c = decodeInto[MobileEntityAdd](env.Data)
	case "mobile_entity_remove":
		c = decodeInto[MobileEntityRemove](env.Data)
	case "pause_execution":
		c = decodeInto[PauseExecution](env.Data)
	case "resume_execution":
		c = decodeInto[ResumeExecution](env.Data)
	case "handle_last_vehicle":
		c = decodeInto[HandleLastVehicle](env.Data)
	case "movable_actor_request":
		c = decodeInto[MovableActorRequest](env.Data)
	case "movable_actor_response":
		c = decodeInto[MovableActorResponse](env.Data)
	case "ip_request":
		c = decodeInto[IpRequest](env.Data)
	case "ip_response":
		c = decodeInto[IpResponse](env.Data)
	case "admission_request":
		c = decodeInto[AdmissionRequest](env.Data)
	case "admission_granted":
		c = decodeInto[AdmissionGranted](env.Data)
	case "leave_notice":
		c = decodeInto[LeaveNotice](env.Data)
	case "neighbor_assign":
		c = decodeInto[NeighborAssign](env.Data)
	case "predecessor_gone":
		c = decodeInto[PredecessorGone](env.Data)
	case "time_tick":
		c = decodeInto[TimeTick](env.Data)
	case "to_kind":
		var wrap struct {
			Kind    string          `json:"kind"`
			Command commandEnvelope `json:"command"`
		}
		if err := json.Unmarshal(env.Data, &wrap); err != nil {
			return nil, fmt.Errorf("message: decode to_kind: %w", err)
		}
		inner, err := decodeCommand(wrap.Command)
		if err != nil {
			return nil, err
		}
		return ToKind{Kind: wrap.Kind, Command: inner}, nil
	default:
		return nil, fmt.Errorf("message: unknown command type %q", env.Type)
	}
	if c == nil {
		return nil, fmt.Errorf("message: decode %s: bad payload", env.Type)
	}
	return c, nil
}

func decodeInto[T Command](data json.RawMessage) Command {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

// wireRequest is the JSON shape of a Request.
type wireRequest struct {
	DeliveryID int64           `json:"delivery_id"`
	Command    commandEnvelope `json:"command"`
}

// MarshalJSON encodes the request with its command envelope.
func (r Request) MarshalJSON() ([]byte, error) {
	cmd, err := encodeCommand(r.Command)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRequest{DeliveryID: r.DeliveryID, Command: cmd})
}

// UnmarshalJSON decodes the request and its command.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cmd, err := decodeCommand(w.Command)
	if err != nil {
		return err
	}
	r.DeliveryID = w.DeliveryID
	r.Command = cmd
	return nil
}

// Encode serializes an envelope for transport.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode deserializes a transported envelope.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("message: decode envelope: %w", err)
	}
	if (env.Request == nil) == (env.Ack == nil) {
		return Envelope{}, fmt.Errorf("message: envelope must carry exactly one of request or ack")
	}
	return env, nil
}
