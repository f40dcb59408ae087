// Package worldmap loads the static city description consumed by the
// entities.
//
// The map is one JSON document listing every static feature with its
// kind-tagged ID. Entities treat the loaded map as an opaque lookup
// service: an Identity command binds an entity to its record here, and
// an ID missing from the map is a data error that leaves the entity
// unbound.
package worldmap

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
)

// Road is a carriageway grouping one or more lanes.
type Road struct {
	ID    ident.ID   `json:"id"`
	Name  string     `json:"name,omitempty"`
	Lanes []ident.ID `json:"lanes"`
}

// Lane is one directed lane of a road.
type Lane struct {
	ID     ident.ID `json:"id"`
	RoadID ident.ID `json:"road_id"`
	Length int      `json:"length"`
}

// Crossroad is an intersection arbitrating between lanes.
type Crossroad struct {
	ID    ident.ID   `json:"id"`
	Lanes []ident.ID `json:"lanes"`
}

// PedestrianCrossing is a turn-taking crossing over a road.
type PedestrianCrossing struct {
	ID     ident.ID `json:"id"`
	RoadID ident.ID `json:"road_id"`
}

// BusStop is a schedule-and-dwell point on a bus line.
type BusStop struct {
	ID    ident.ID        `json:"id"`
	Line  string          `json:"line"`
	Dwell event.TimeValue `json:"dwell"`
}

// TramStop is a schedule-and-dwell point on a tram line.
type TramStop struct {
	ID    ident.ID        `json:"id"`
	Line  string          `json:"line"`
	Dwell event.TimeValue `json:"dwell"`
}

// Zone is a pass-through district boundary.
type Zone struct {
	ID   ident.ID `json:"id"`
	Name string   `json:"name,omitempty"`
}

// Document is the raw JSON shape of the map file.
type Document struct {
	Roads               []Road               `json:"roads"`
	Lanes               []Lane               `json:"lanes"`
	Crossroads          []Crossroad          `json:"crossroads"`
	PedestrianCrossings []PedestrianCrossing `json:"pedestrian_crossings"`
	BusStops            []BusStop            `json:"bus_stops"`
	TramStops           []TramStop           `json:"tram_stops"`
	Zones               []Zone               `json:"zones"`
}

// Map is the loaded, indexed city description.
type Map struct {
	doc   Document
	index map[ident.ID]any
}

// Load parses a map document and indexes it by entity ID. Every ID
// must carry the kind tag matching its section; a mismatch or a
// duplicate ID fails the load.
func Load(r io.Reader) (*Map, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("worldmap: parse: %w", err)
	}
	m := &Map{doc: doc, index: make(map[ident.ID]any)}

	add := func(id ident.ID, want ident.Kind, record any) error {
		k, err := ident.KindOf(id)
		if err != nil {
			return fmt.Errorf("worldmap: %w", err)
		}
		if k != want {
			return fmt.Errorf("worldmap: ID %q tagged %s listed under %s", id, k, want)
		}
		if _, dup := m.index[id]; dup {
			return fmt.Errorf("worldmap: duplicate ID %q", id)
		}
		m.index[id] = record
		return nil
	}

	for _, r := range doc.Roads {
		if err := add(r.ID, ident.KindRoad, r); err != nil {
			return nil, err
		}
	}
	for _, l := range doc.Lanes {
		if err := add(l.ID, ident.KindLane, l); err != nil {
			return nil, err
		}
	}
	for _, c := range doc.Crossroads {
		if err := add(c.ID, ident.KindCrossroad, c); err != nil {
			return nil, err
		}
	}
	for _, p := range doc.PedestrianCrossings {
		if err := add(p.ID, ident.KindPedestrianCrossing, p); err != nil {
			return nil, err
		}
	}
	for _, b := range doc.BusStops {
		if err := add(b.ID, ident.KindBusStop, b); err != nil {
			return nil, err
		}
	}
	for _, ts := range doc.TramStops {
		if err := add(ts.ID, ident.KindTramStop, ts); err != nil {
			return nil, err
		}
	}
	for _, z := range doc.Zones {
		if err := add(z.ID, ident.KindZone, z); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LoadFile loads a map document from disk.
func LoadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("worldmap: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Contains reports whether the map has a record for the ID.
func (m *Map) Contains(id ident.ID) bool {
	_, ok := m.index[id]
	return ok
}

// Lookup returns the raw record for the ID.
func (m *Map) Lookup(id ident.ID) (any, bool) {
	rec, ok := m.index[id]
	return rec, ok
}

// Lane returns the lane record for the ID.
func (m *Map) Lane(id ident.ID) (Lane, bool) {
	rec, ok := m.index[id].(Lane)
	return rec, ok
}

// BusStop returns the bus stop record for the ID.
func (m *Map) BusStop(id ident.ID) (BusStop, bool) {
	rec, ok := m.index[id].(BusStop)
	return rec, ok
}

// TramStop returns the tram stop record for the ID.
func (m *Map) TramStop(id ident.ID) (TramStop, bool) {
	rec, ok := m.index[id].(TramStop)
	return rec, ok
}
