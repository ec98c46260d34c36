package ephemeris

import (
	"slices"

	"github.com/meridian-av/gnssd/internal/gnss"
)

// Set groups ephemerides per satellite, ordered by epoch. The zero value is
// not usable; construct with NewSet or make.
type Set map[gnss.SatelliteID][]*Ephemeris

// NewSet returns an empty set.
func NewSet() Set {
	return make(Set)
}

// Add inserts an ephemeris, keeping the per-satellite list epoch-ordered.
// An entry with the same type and epoch replaces the existing one.
func (s Set) Add(e *Ephemeris) {
	list := s[e.Satellite]
	for i, old := range list {
		if old.Type == e.Type && old.Epoch == e.Epoch {
			list[i] = e
			return
		}
	}
	list = append(list, e)
	slices.SortFunc(list, func(a, b *Ephemeris) int {
		d := a.Epoch.Sub(b.Epoch)
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		default:
			return 0
		}
	})
	s[e.Satellite] = list
}

// Merge adds every ephemeris of other into s.
func (s Set) Merge(other Set) {
	for _, list := range other {
		for _, e := range list {
			s.Add(e)
		}
	}
}

// Len returns the total number of ephemerides across all satellites.
func (s Set) Len() int {
	n := 0
	for _, list := range s {
		n += len(list)
	}
	return n
}

// selectValid returns the ephemeris closest to t among those valid at t,
// or nil.
func (s Set) selectValid(sat gnss.SatelliteID, t gnss.Time) *Ephemeris {
	var best *Ephemeris
	var bestAge float64
	for _, e := range s[sat] {
		if !e.Valid(t) {
			continue
		}
		age := t.Sub(e.Epoch)
		if age < 0 {
			age = -age
		}
		if best == nil || age < bestAge {
			best, bestAge = e, age
		}
	}
	return best
}
