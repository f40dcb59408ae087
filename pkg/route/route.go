// Package route implements the traversal cursor a mobile entity keeps
// over its composite cyclic route.
//
// A pedestrian or car route is a triple of segments (house→work,
// work→fun, fun→home) traversed cyclically in that order; a bus or
// tram route is a single cyclic segment. The cursor is a (segment tag,
// index) pair — segments are compared by tag, never by reference, so
// the whole cursor round-trips through JSON for snapshots.
package route

import (
	"errors"
	"fmt"

	"github.com/daviddao/gridlock/pkg/ident"
)

// StepKind identifies the static entity kind a step traverses.
type StepKind string

const (
	RoadStep               StepKind = "road_step"
	LaneStep               StepKind = "lane_step"
	CrossroadStep          StepKind = "crossroad_step"
	PedestrianCrossingStep StepKind = "pedestrian_crossroad_step"
	BusStopStep            StepKind = "bus_stop_step"
	TramStopStep           StepKind = "tram_stop_step"
	ZoneStep               StepKind = "zone_step"
)

// Step is one kind-tagged waypoint in a route. The static entity is
// referenced by ID so routes stay persistable. Service carries the
// optional kind-specific datum (the line name for stop steps).
type Step struct {
	Kind     StepKind `json:"kind"`
	EntityID ident.ID `json:"entity_id"`
	Service  string   `json:"service,omitempty"`
}

// SegmentTag names one segment of a route. The tag replaces the
// by-reference segment comparison of a live object graph.
type SegmentTag string

const (
	HouseToWork SegmentTag = "houseToWork"
	WorkToFun   SegmentTag = "workToFun"
	FunToHome   SegmentTag = "funToHome"
	SingleLoop  SegmentTag = "single"
)

// Route is the tagged variant over the two route shapes.
type Route interface{ isRoute() }

// Triple is the day-cycle route of pedestrians and cars.
type Triple struct {
	HouseToWork []Step `json:"houseToWork"`
	WorkToFun   []Step `json:"workToFun"`
	FunToHome   []Step `json:"funToHome"`
}

func (Triple) isRoute() {}

// Single is the cyclic loop of buses and trams.
type Single struct {
	Loop []Step `json:"loop"`
}

func (Single) isRoute() {}

// ErrNoRoute is returned by cursor operations before a route is set.
var ErrNoRoute = errors.New("route: no route set")

// Cursor is the mobile's traversal state: the active segment and a
// non-negative index into it. Between steps 0 <= Index < len(segment)
// always holds.
type Cursor struct {
	Segment SegmentTag `json:"segment"`
	Index   int        `json:"index"`

	route Route
}

// NewCursor positions a fresh cursor at the start of the route's first
// segment.
func NewCursor(r Route) (*Cursor, error) {
	switch r.(type) {
	case Triple, *Triple:
		return &Cursor{Segment: HouseToWork, route: deref(r)}, nil
	case Single, *Single:
		return &Cursor{Segment: SingleLoop, route: deref(r)}, nil
	case nil:
		return nil, ErrNoRoute
	}
	return nil, fmt.Errorf("route: unsupported route type %T", r)
}

// Restore rebinds a snapshot-restored cursor to its route value.
func (c *Cursor) Restore(r Route) { c.route = deref(r) }

// Route returns the bound route.
func (c *Cursor) Route() Route { return c.route }

func deref(r Route) Route {
	switch v := r.(type) {
	case *Triple:
		return *v
	case *Single:
		return *v
	}
	return r
}

// segment returns the steps the tag names, or nil for a tag the bound
// route does not have.
func (c *Cursor) segment(tag SegmentTag) []Step {
	switch r := c.route.(type) {
	case Triple:
		switch tag {
		case HouseToWork:
			return r.HouseToWork
		case WorkToFun:
			return r.WorkToFun
		case FunToHome:
			return r.FunToHome
		}
	case Single:
		if tag == SingleLoop {
			return r.Loop
		}
	}
	return nil
}

// Current returns the steps of the active segment.
func (c *Cursor) Current() []Step { return c.segment(c.Segment) }

// CurrentStep returns the step under the cursor.
func (c *Cursor) CurrentStep() (Step, error) {
	seg := c.Current()
	if seg == nil {
		return Step{}, ErrNoRoute
	}
	if c.Index < 0 || c.Index >= len(seg) {
		return Step{}, fmt.Errorf("route: index %d out of segment %q length %d", c.Index, c.Segment, len(seg))
	}
	return seg[c.Index], nil
}

// Advance moves the cursor one step forward within the active segment.
// The caller detects overrun with Overrun and resolves it with
// HandleIndexOverrun.
func (c *Cursor) Advance() { c.Index++ }

// Overrun reports whether the index has exceeded the active segment.
func (c *Cursor) Overrun() bool {
	seg := c.Current()
	return seg != nil && c.Index > len(seg)-1
}

// HandleIndexOverrun transitions the cursor past the end of the active
// segment: triples rotate houseToWork → workToFun → funToHome →
// houseToWork, singles wrap in place. The index resets to zero either
// way. Called with no route set it returns ErrNoRoute and leaves the
// cursor untouched.
func (c *Cursor) HandleIndexOverrun() error {
	switch c.route.(type) {
	case Triple:
		switch c.Segment {
		case HouseToWork:
			c.Segment = WorkToFun
		case WorkToFun:
			c.Segment = FunToHome
		default:
			c.Segment = HouseToWork
		}
		c.Index = 0
		return nil
	case Single:
		c.Index = 0
		return nil
	}
	return ErrNoRoute
}

// concat returns the full logical cycle and the prefix length of
// segments before the active one.
func (c *Cursor) concat() (all []Step, base int) {
	switch r := c.route.(type) {
	case Triple:
		all = make([]Step, 0, len(r.HouseToWork)+len(r.WorkToFun)+len(r.FunToHome))
		all = append(all, r.HouseToWork...)
		all = append(all, r.WorkToFun...)
		all = append(all, r.FunToHome...)
		switch c.Segment {
		case WorkToFun:
			base = len(r.HouseToWork)
		case FunToHome:
			base = len(r.HouseToWork) + len(r.WorkToFun)
		}
	case Single:
		all = r.Loop
	}
	return all, base
}

// StepAt returns the step at a signed logical offset from the cursor.
//
// When base+index+offset goes negative the target is taken as
// len(cycle)+offset. That formula is a partial wrap — it matches the
// general modular wrap only when the base position is zero — and is
// kept deliberately: callers rely on it for the look-behind window,
// which never reaches past -len(cycle).
func (c *Cursor) StepAt(offset int) (Step, error) {
	all, base := c.concat()
	if len(all) == 0 {
		return Step{}, ErrNoRoute
	}
	target := base + c.Index + offset
	if target < 0 {
		target = len(all) + offset
	} else {
		target = target % len(all)
	}
	if target < 0 || target >= len(all) {
		return Step{}, fmt.Errorf("route: offset %d out of cycle length %d", offset, len(all))
	}
	return all[target], nil
}

// PreviousStep returns the step behind the cursor. At index zero it is
// the last element of the previous segment (triples) or of the same
// segment (singles).
func (c *Cursor) PreviousStep() (Step, error) {
	seg := c.Current()
	if seg == nil {
		return Step{}, ErrNoRoute
	}
	if c.Index > 0 {
		return seg[c.Index-1], nil
	}
	var prev []Step
	switch c.route.(type) {
	case Triple:
		switch c.Segment {
		case HouseToWork:
			prev = c.segment(FunToHome)
		case WorkToFun:
			prev = c.segment(HouseToWork)
		default:
			prev = c.segment(WorkToFun)
		}
	case Single:
		prev = seg
	}
	if len(prev) == 0 {
		return Step{}, ErrNoRoute
	}
	return prev[len(prev)-1], nil
}

// StepSequence returns the six-step scanning window at offsets
// -2, -1, 0, +1, +2, +3 used by the coordination protocols for
// look-ahead and look-behind.
func (c *Cursor) StepSequence() ([6]Step, error) {
	var window [6]Step
	offsets := [6]int{-2, -1, 0, 1, 2, 3}
	for i, off := range offsets {
		s, err := c.StepAt(off)
		if err != nil {
			return window, err
		}
		window[i] = s
	}
	return window, nil
}
