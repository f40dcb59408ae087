// Package ident defines entity identity for the gridlock network.
//
// Every entity — static map feature or moving participant — carries a
// stable string ID whose first byte encodes its kind. The kind tag is
// authoritative for dispatch: the router, the persistence layer and
// the protocol handlers all branch on it, and a tag byte is never
// reassigned to a different kind.
package ident

import "fmt"

// Kind classifies an entity by the first byte of its ID.
type Kind byte

const (
	KindRoad               Kind = 'R'
	KindLane               Kind = 'L'
	KindCrossroad          Kind = 'C'
	KindPedestrianCrossing Kind = 'P'
	KindBusStop            Kind = 'B'
	KindTramStop           Kind = 'T'
	KindZone               Kind = 'Z'
	KindMobile             Kind = 'M'
)

// ID is a stable entity identifier, e.g. "L-7" or "M-42".
type ID string

// KindOf returns the kind encoded in the ID's first byte. An empty ID
// or an unrecognized tag byte is a structural error.
func KindOf(id ID) (Kind, error) {
	if id == "" {
		return 0, fmt.Errorf("empty entity ID")
	}
	k := Kind(id[0])
	switch k {
	case KindRoad, KindLane, KindCrossroad, KindPedestrianCrossing,
		KindBusStop, KindTramStop, KindZone, KindMobile:
		return k, nil
	}
	return 0, fmt.Errorf("entity ID %q: unknown kind tag %q", id, string(id[0]))
}

// Immovable reports whether the ID names a static map feature.
func Immovable(id ID) bool {
	k, err := KindOf(id)
	return err == nil && k != KindMobile
}

// Mobile reports whether the ID names a moving participant.
func Mobile(id ID) bool {
	k, err := KindOf(id)
	return err == nil && k == KindMobile
}

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindRoad:
		return "Road"
	case KindLane:
		return "Lane"
	case KindCrossroad:
		return "Crossroad"
	case KindPedestrianCrossing:
		return "PedestrianCrossing"
	case KindBusStop:
		return "BusStop"
	case KindTramStop:
		return "TramStop"
	case KindZone:
		return "Zone"
	case KindMobile:
		return "Mobile"
	}
	return fmt.Sprintf("Kind(%q)", string(rune(k)))
}

// PersistenceKey returns the journal/snapshot key for an entity,
// "<Kind>Actor-<id>". IDs with an unknown tag still get a stable key
// so structurally bad data remains addressable for inspection.
func PersistenceKey(id ID) string {
	k, err := KindOf(id)
	if err != nil {
		return "UnknownActor-" + string(id)
	}
	return k.String() + "Actor-" + string(id)
}
