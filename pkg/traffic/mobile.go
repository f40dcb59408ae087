package traffic

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/route"
	"github.com/daviddao/gridlock/pkg/runtime"
)

// Mobile kinds, matching the route handoff's RouteKind field.
const (
	KindPedestrian = "pedestrian"
	KindCar        = "car"
	KindBus        = "bus"
	KindTram       = "tram"
)

// restDuration is how long a pedestrian or car sleeps after finishing
// its day cycle, in simulation time.
const restDuration event.TimeValue = 120

// Mobile is the runtime behavior of one moving participant. It walks
// its route one step per grant: each time tick it asks the next step's
// entity for admission, and each admission advances the cursor.
type Mobile struct {
	id ident.ID

	hostID    ident.ID
	kind      string
	routeKind string
	rawRoute  json.RawMessage
	cursor    *route.Cursor

	nextVehicleID       ident.ID
	previousVehicleID   ident.ID
	predecessorGoneSent bool

	currentTime event.TimeValue
	pointIndex  int
	beginOfStep bool

	// transient step-loop state, rebuilt on resume
	waitingAdmission bool
	sleeping         bool
}

type mobileState struct {
	HostID              ident.ID        `json:"host_id,omitempty"`
	RouteKind           string          `json:"route_kind,omitempty"`
	Route               json.RawMessage `json:"route,omitempty"`
	Segment             string          `json:"segment,omitempty"`
	Index               int             `json:"index"`
	NextVehicleID       ident.ID        `json:"next_vehicle_id,omitempty"`
	PreviousVehicleID   ident.ID        `json:"previous_vehicle_id,omitempty"`
	PredecessorGoneSent bool            `json:"predecessor_gone_sent"`
	CurrentTime         event.TimeValue `json:"current_time"`
	PointIndex          int             `json:"point_index"`
	BeginOfStep         bool            `json:"begin_of_step"`
}

// NewMobile builds the behavior for a mobile entity ID.
func NewMobile(id ident.ID) (*Mobile, error) {
	if !ident.Mobile(id) {
		return nil, fmt.Errorf("traffic: %s is not a mobile ID", id)
	}
	return &Mobile{id: id, beginOfStep: true}, nil
}

// decodeRoute builds the route value for a mobile kind: pedestrians
// and cars cycle the day triple, buses and trams loop one segment.
func decodeRoute(kind string, raw json.RawMessage) (route.Route, error) {
	switch kind {
	case KindPedestrian, KindCar:
		var r route.Triple
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode triple route: %w", err)
		}
		return r, nil
	case KindBus, KindTram:
		var r route.Single
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode single route: %w", err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown mobile kind %q", kind)
}

// Bootstrap does nothing: a mobile moves only when resumed by its host.
func (m *Mobile) Bootstrap(*runtime.Context) error { return nil }

// HandleCommand dispatches one deduplicated command.
func (m *Mobile) HandleCommand(ctx *runtime.Context, from ident.ID, cmd message.Command) error {
	switch c := cmd.(type) {
	case message.CreateMobileEntity:
		if m.cursor != nil {
			return nil
		}
		return ctx.Persist(event.RouteAssigned{HostID: from, RouteKind: c.RouteKind, Route: c.Route})

	case message.ResumeExecution:
		m.sleeping = false
		m.waitingAdmission = false
		return m.requestNext(ctx)

	case message.TimeTick:
		m.currentTime = c.Value
		if m.sleeping || m.waitingAdmission {
			return nil
		}
		return m.requestNext(ctx)

	case message.AdmissionGranted:
		return m.handleGranted(ctx, c)

	case message.NeighborAssign:
		next, prev, gone := m.nextVehicleID, m.previousVehicleID, m.predecessorGoneSent
		if c.NextVehicleID != "" {
			next = c.NextVehicleID
			gone = false
		}
		if c.PreviousVehicleID != "" {
			prev = c.PreviousVehicleID
		}
		return ctx.Persist(event.NeighborsChanged{
			NextVehicleID:       next,
			PreviousVehicleID:   prev,
			PredecessorGoneSent: gone,
		})

	case message.PredecessorGone:
		if m.previousVehicleID != c.PredecessorID {
			return nil
		}
		return ctx.Persist(event.NeighborsChanged{
			NextVehicleID:       m.nextVehicleID,
			PredecessorGoneSent: m.predecessorGoneSent,
		})

	case message.PauseExecution:
		return m.pause(ctx, c.WakeupTime)

	case message.MovableActorResponse, message.IpResponse:
		return nil
	}
	ctx.Logger().Error("We should not be here", "command", fmt.Sprintf("%T", cmd))
	return nil
}

// requestNext asks the next step's entity for admission.
func (m *Mobile) requestNext(ctx *runtime.Context) error {
	if m.cursor == nil {
		ctx.Logger().Warn("resume without route")
		return nil
	}
	next, err := m.cursor.StepAt(1)
	if err != nil {
		return fmt.Errorf("look ahead: %w", err)
	}
	if err := ctx.Send(next.EntityID, message.AdmissionRequest{
		MobileID:   m.id,
		Pedestrian: m.kind == KindPedestrian,
	}); err != nil {
		return err
	}
	m.waitingAdmission = true
	return nil
}

// handleGranted advances the cursor one step: the granted entity is
// entered, the departed one is notified, and a finished day cycle puts
// the mobile to sleep.
func (m *Mobile) handleGranted(ctx *runtime.Context, c message.AdmissionGranted) error {
	if m.cursor == nil {
		ctx.Logger().Warn("grant without route", "by", string(c.ByID))
		return nil
	}
	m.waitingAdmission = false

	departed, err := m.cursor.CurrentStep()
	if err != nil {
		return fmt.Errorf("current step: %w", err)
	}

	// Compute the post-advance position without touching live state;
	// the move becomes real only through the journaled event.
	scratch := *m.cursor
	scratch.Advance()
	wrapped := false
	if scratch.Overrun() {
		before := scratch.Segment
		if err := scratch.HandleIndexOverrun(); err != nil {
			return fmt.Errorf("index overrun: %w", err)
		}
		wrapped = before == route.FunToHome && scratch.Segment == route.HouseToWork
	}
	if err := ctx.Persist(event.StepAdvanced{Segment: string(scratch.Segment), Index: scratch.Index}); err != nil {
		return err
	}

	pedestrian := m.kind == KindPedestrian
	if err := ctx.Send(departed.EntityID, message.LeaveNotice{MobileID: m.id, Pedestrian: pedestrian}); err != nil {
		return err
	}
	if departed.Kind == route.LaneStep {
		if err := ctx.Send(departed.EntityID, message.HandleLastVehicle{VehicleID: m.id}); err != nil {
			return err
		}
		if m.nextVehicleID != "" && !m.predecessorGoneSent {
			if err := ctx.Send(m.nextVehicleID, message.PredecessorGone{PredecessorID: m.id}); err != nil {
				return err
			}
			if err := ctx.Persist(event.NeighborsChanged{
				NextVehicleID:       m.nextVehicleID,
				PreviousVehicleID:   m.previousVehicleID,
				PredecessorGoneSent: true,
			}); err != nil {
				return err
			}
		}
	}

	if wrapped {
		return m.pause(ctx, m.currentTime+restDuration)
	}
	return nil
}

// pause registers the mobile as sleeping with its host and goes inert
// until the host's wake-up resume.
func (m *Mobile) pause(ctx *runtime.Context, wake event.TimeValue) error {
	if m.hostID == "" {
		ctx.Logger().Warn("pause without host")
		return nil
	}
	if err := ctx.Send(m.hostID, message.PauseExecution{ID: m.id, WakeupTime: wake}); err != nil {
		return err
	}
	m.sleeping = true
	return nil
}

// ApplyEvent folds one journaled event into state.
func (m *Mobile) ApplyEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.RouteAssigned:
		r, err := decodeRoute(e.RouteKind, e.Route)
		if err != nil {
			// Structurally bad journal data; leave the mobile
			// route-less rather than guessing.
			return
		}
		cur, err := route.NewCursor(r)
		if err != nil {
			return
		}
		m.hostID = e.HostID
		m.kind = e.RouteKind
		m.routeKind = e.RouteKind
		m.rawRoute = e.Route
		m.cursor = cur
		m.beginOfStep = true
		m.pointIndex = 0
	case event.StepAdvanced:
		if m.cursor == nil {
			return
		}
		m.cursor.Segment = route.SegmentTag(e.Segment)
		m.cursor.Index = e.Index
		m.beginOfStep = true
		m.pointIndex = 0
	case event.NeighborsChanged:
		m.nextVehicleID = e.NextVehicleID
		m.previousVehicleID = e.PreviousVehicleID
		m.predecessorGoneSent = e.PredecessorGoneSent
	}
}

// SnapshotState encodes the mobile state.
func (m *Mobile) SnapshotState() ([]byte, error) {
	st := mobileState{
		HostID:              m.hostID,
		RouteKind:           m.routeKind,
		Route:               m.rawRoute,
		NextVehicleID:       m.nextVehicleID,
		PreviousVehicleID:   m.previousVehicleID,
		PredecessorGoneSent: m.predecessorGoneSent,
		CurrentTime:         m.currentTime,
		PointIndex:          m.pointIndex,
		BeginOfStep:         m.beginOfStep,
	}
	if m.cursor != nil {
		st.Segment = string(m.cursor.Segment)
		st.Index = m.cursor.Index
	}
	return json.Marshal(st)
}

// RestoreState decodes a snapshot produced by SnapshotState.
func (m *Mobile) RestoreState(state []byte) error {
	var st mobileState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	m.hostID = st.HostID
	m.routeKind = st.RouteKind
	m.kind = st.RouteKind
	m.rawRoute = st.Route
	m.nextVehicleID = st.NextVehicleID
	m.previousVehicleID = st.PreviousVehicleID
	m.predecessorGoneSent = st.PredecessorGoneSent
	m.currentTime = st.CurrentTime
	m.pointIndex = st.PointIndex
	m.beginOfStep = st.BeginOfStep
	m.cursor = nil
	if st.RouteKind != "" && len(st.Route) > 0 {
		r, err := decodeRoute(st.RouteKind, st.Route)
		if err != nil {
			return err
		}
		cur, err := route.NewCursor(r)
		if err != nil {
			return err
		}
		cur.Segment = route.SegmentTag(st.Segment)
		cur.Index = st.Index
		m.cursor = cur
	}
	return nil
}
