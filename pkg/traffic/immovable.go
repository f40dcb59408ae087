// Package traffic implements the domain behaviors hosted by the
// entity runtime: one behavior per static map feature kind and one for
// the mobile participants.
//
// Static entities own the shared-resource protocols (lane admission,
// crossroad arbitration, crossing turn-taking, stop dwell) plus the
// bookkeeping every immovable carries: the handled-mobiles set, the
// sleepers map, and the wake-up sweep on time ticks. Mobiles own the
// route cursor and the step advancement loop.
package traffic

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/worldmap"
)

// protocol is the per-kind half of an immovable: the lane, crossroad,
// crossing, or stop state machine. The immovable delegates domain
// commands and tick sweeps to it.
type protocol interface {
	// handleCommand processes a domain command; ok=false means the
	// protocol does not recognize it.
	handleCommand(ctx *runtime.Context, imm *Immovable, from ident.ID, cmd message.Command) (ok bool, err error)

	// applyEvent folds a protocol event; ok=false means the event
	// belongs to someone else.
	applyEvent(ev event.Event) bool

	// onTick lets time-driven protocols (stops) release dwellers.
	onTick(ctx *runtime.Context, imm *Immovable, t event.TimeValue) error

	// snapshot and restore round-trip the protocol state.
	snapshot() (json.RawMessage, error)
	restore(raw json.RawMessage) error
}

// Immovable is the runtime behavior of one static map feature.
type Immovable struct {
	id       ident.ID
	kind     ident.Kind
	world    *worldmap.Map
	nodeAddr string

	bound    bool
	handled  map[ident.ID]bool
	sleepers map[ident.ID]event.TimeValue
	lastTick event.TimeValue
	protocol protocol
}

type immovableState struct {
	Bound    bool                         `json:"bound"`
	Handled  []ident.ID                   `json:"handled,omitempty"`
	Sleepers map[ident.ID]event.TimeValue `json:"sleepers,omitempty"`
	LastTick event.TimeValue              `json:"last_tick"`
	Protocol json.RawMessage              `json:"protocol,omitempty"`
}

// NewImmovable builds the behavior for a static entity ID.
func NewImmovable(id ident.ID, world *worldmap.Map, nodeAddr string) (*Immovable, error) {
	kind, err := ident.KindOf(id)
	if err != nil {
		return nil, err
	}
	imm := &Immovable{
		id:       id,
		kind:     kind,
		world:    world,
		nodeAddr: nodeAddr,
		handled:  make(map[ident.ID]bool),
		sleepers: make(map[ident.ID]event.TimeValue),
	}
	switch kind {
	case ident.KindLane:
		imm.protocol = newLaneProtocol()
	case ident.KindCrossroad:
		imm.protocol = newCrossroadProtocol()
	case ident.KindPedestrianCrossing:
		imm.protocol = newCrossingProtocol()
	case ident.KindBusStop, ident.KindTramStop:
		imm.protocol = newStopProtocol(id, world)
	case ident.KindRoad, ident.KindZone:
		imm.protocol = passthroughProtocol{}
	default:
		return nil, fmt.Errorf("traffic: %s is not an immovable kind", id)
	}
	return imm, nil
}

// Bootstrap respawns the handled mobiles: the self-addressed
// ReCreateMobileEntities runs after every queued removal from the
// replayed journal has been observed.
func (imm *Immovable) Bootstrap(ctx *runtime.Context) error {
	ctx.SendSelf(message.ReCreateMobileEntities{})
	return nil
}

// HandleCommand dispatches one deduplicated command.
func (imm *Immovable) HandleCommand(ctx *runtime.Context, from ident.ID, cmd message.Command) error {
	if tk, ok := cmd.(message.ToKind); ok {
		if tk.Kind != imm.kind.String() {
			ctx.Logger().Error("We should not be here", "wrapped_kind", tk.Kind, "own_kind", imm.kind.String())
			return nil
		}
		cmd = tk.Command
	}

	if id, ok := cmd.(message.Identity); ok {
		return imm.handleIdentity(ctx, id)
	}
	if !imm.bound {
		// Unbound entities stay inert: the map had no record for
		// them, so any domain traffic is misaddressed.
		ctx.Logger().Warn("ignoring command for unbound entity", "command", fmt.Sprintf("%T", cmd))
		return nil
	}

	switch c := cmd.(type) {
	case message.CreateMobileEntity:
		return imm.handleCreateMobile(ctx, c)
	case message.ReCreateMobileEntities:
		for id := range imm.handled {
			if _, asleep := imm.sleepers[id]; asleep {
				continue
			}
			if err := ctx.Send(id, message.ResumeExecution{}); err != nil {
				return err
			}
		}
		return nil
	case message.ReCreateMe:
		return ctx.Send(c.ID, message.ResumeExecution{})
	case message.MobileEntityAdd:
		if imm.handled[c.ID] {
			return nil
		}
		return ctx.Persist(event.MobileEntityArrived{ID: c.ID})
	case message.MobileEntityRemove:
		if !imm.handled[c.ID] {
			return nil
		}
		return ctx.Persist(event.MobileEntityGone{ID: c.ID})
	case message.PauseExecution:
		if !imm.handled[c.ID] {
			ctx.Logger().Warn("pause for unhandled mobile", "mobile", string(c.ID))
		}
		return ctx.Persist(event.MobileEntitySleeping{ID: c.ID, WakeupTime: c.WakeupTime})
	case message.TimeTick:
		return imm.handleTick(ctx, c.Value)
	case message.MovableActorRequest:
		if from == "" {
			return nil
		}
		return ctx.Send(from, message.MovableActorResponse{ID: c.ID, Found: imm.handled[c.ID]})
	case message.IpRequest:
		if from == "" {
			return nil
		}
		return ctx.Send(from, message.IpResponse{Addr: imm.nodeAddr})
	}

	ok, err := imm.protocol.handleCommand(ctx, imm, from, cmd)
	if err != nil {
		return err
	}
	if !ok {
		ctx.Logger().Error("We should not be here", "command", fmt.Sprintf("%T", cmd))
	}
	return nil
}

func (imm *Immovable) handleIdentity(ctx *runtime.Context, cmd message.Identity) error {
	if imm.bound {
		ctx.Logger().Warn("duplicate identity", "id", string(cmd.ID))
		return nil
	}
	if cmd.ID != imm.id {
		return fmt.Errorf("identity %s addressed to %s", cmd.ID, imm.id)
	}
	if !imm.world.Contains(imm.id) {
		// Data error: stay unbound and fail slow.
		ctx.Logger().Error("entity missing from map", "id", string(imm.id))
		return nil
	}
	return ctx.Persist(event.IdentityArrived{ID: imm.id})
}

func (imm *Immovable) handleCreateMobile(ctx *runtime.Context, cmd message.CreateMobileEntity) error {
	if !imm.handled[cmd.ID] {
		if err := ctx.Persist(event.MobileEntityArrived{ID: cmd.ID}); err != nil {
			return err
		}
	}
	// Hand the route to the child, then start its step loop. The
	// router spawns the child on first delivery.
	if err := ctx.Send(cmd.ID, cmd); err != nil {
		return err
	}
	return ctx.Send(cmd.ID, message.ResumeExecution{})
}

// handleTick wakes every sleeper whose time has come. Processing the
// same tick twice wakes nobody new: woken sleepers leave the map
// before the resume is sent.
func (imm *Immovable) handleTick(ctx *runtime.Context, t event.TimeValue) error {
	imm.lastTick = t
	for id, wake := range imm.sleepers {
		if wake > t {
			continue
		}
		if err := ctx.Persist(event.MobileEntityWakingUp{ID: id}); err != nil {
			return err
		}
		if err := ctx.Send(id, message.ResumeExecution{}); err != nil {
			return err
		}
	}
	return imm.protocol.onTick(ctx, imm, t)
}

// ApplyEvent folds one journaled event into state.
func (imm *Immovable) ApplyEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.IdentityArrived:
		imm.bound = true
	case event.MobileEntityArrived:
		imm.handled[e.ID] = true
	case event.MobileEntityGone:
		delete(imm.handled, e.ID)
	case event.MobileEntitySleeping:
		imm.sleepers[e.ID] = e.WakeupTime
	case event.MobileEntityWakingUp:
		delete(imm.sleepers, e.ID)
	default:
		imm.protocol.applyEvent(ev)
	}
}

// SnapshotState encodes the immovable state.
func (imm *Immovable) SnapshotState() ([]byte, error) {
	proto, err := imm.protocol.snapshot()
	if err != nil {
		return nil, err
	}
	st := immovableState{
		Bound:    imm.bound,
		Sleepers: imm.sleepers,
		LastTick: imm.lastTick,
		Protocol: proto,
	}
	for id := range imm.handled {
		st.Handled = append(st.Handled, id)
	}
	return json.Marshal(st)
}

// RestoreState decodes a snapshot produced by SnapshotState.
func (imm *Immovable) RestoreState(state []byte) error {
	var st immovableState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	imm.bound = st.Bound
	imm.handled = make(map[ident.ID]bool, len(st.Handled))
	for _, id := range st.Handled {
		imm.handled[id] = true
	}
	imm.sleepers = st.Sleepers
	if imm.sleepers == nil {
		imm.sleepers = make(map[ident.ID]event.TimeValue)
	}
	imm.lastTick = st.LastTick
	if len(st.Protocol) > 0 {
		return imm.protocol.restore(st.Protocol)
	}
	return nil
}
