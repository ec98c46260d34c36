package ephemeris

import (
	"github.com/meridian-av/gnssd/internal/gnss"
)

// Span is a half-open interval of GPS time covered by fetched orbit
// products.
type Span struct {
	Start gnss.Time `json:"start"`
	End   gnss.Time `json:"end"`
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t gnss.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Store holds the ephemerides the estimator selects from: broadcast
// navigation records received over the air and precise orbit polynomials
// from downloaded products, plus the time spans orbit fetches have covered.
//
// A Store is not safe for concurrent use. The main loop owns it; background
// fetch jobs construct their own transient stores and hand back values.
type Store struct {
	constellations map[gnss.Constellation]bool
	types          map[Type]bool

	navs   Set
	orbits Set
	spans  []Span
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAcceptedTypes restricts the ephemeris types the store keeps. The
// default accepts broadcast records and ultra-rapid orbit products.
func WithAcceptedTypes(types ...Type) StoreOption {
	return func(s *Store) {
		if len(types) == 0 {
			return
		}
		s.types = make(map[Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// NewStore returns a store accepting measurements and ephemerides from the
// given constellations.
func NewStore(constellations []gnss.Constellation, opts ...StoreOption) *Store {
	accept := make(map[gnss.Constellation]bool, len(constellations))
	for _, c := range constellations {
		accept[c] = true
	}
	s := &Store{
		constellations: accept,
		types:          map[Type]bool{TypeNav: true, TypeUltraRapidOrbit: true},
		navs:           NewSet(),
		orbits:         NewSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accepts reports whether the store is configured for the satellite's
// constellation.
func (s *Store) Accepts(sat gnss.SatelliteID) bool {
	return s.constellations[sat.Constellation]
}

// AddNav inserts a broadcast ephemeris. Records from constellations or of
// types the store is not configured for are dropped.
func (s *Store) AddNav(e *Ephemeris) {
	if !s.Accepts(e.Satellite) || !s.types[e.Type] {
		return
	}
	s.navs.Add(e)
}

// AddNavs merges a set of broadcast ephemerides.
func (s *Store) AddNavs(set Set) {
	for _, list := range set {
		for _, e := range list {
			s.AddNav(e)
		}
	}
}

// AddOrbits merges precise ephemerides. Coverage spans are recorded
// separately via RecordOrbitSpan; cache restores deliberately skip them so
// a fresh fetch can refresh stale products.
func (s *Store) AddOrbits(set Set) {
	for _, list := range set {
		for _, e := range list {
			if !s.Accepts(e.Satellite) || !s.types[e.Type] {
				continue
			}
			s.orbits.Add(e)
		}
	}
}

// RecordOrbitSpan marks a fetched coverage interval.
func (s *Store) RecordOrbitSpan(span Span) {
	s.spans = append(s.spans, span)
}

// CoversOrbit reports whether a completed fetch already covers t.
func (s *Store) CoversOrbit(t gnss.Time) bool {
	for _, span := range s.spans {
		if span.Contains(t) {
			return true
		}
	}
	return false
}

// Select returns the best ephemeris for the satellite at t: a precise orbit
// when one is valid, otherwise a broadcast record, otherwise nil.
func (s *Store) Select(sat gnss.SatelliteID, t gnss.Time) *Ephemeris {
	if e := s.orbits.selectValid(sat, t); e != nil {
		return e
	}
	return s.navs.selectValid(sat, t)
}

// Navs returns the broadcast set. Shared, not copied; callers must not
// mutate while the main loop runs.
func (s *Store) Navs() Set { return s.navs }

// Orbits returns the precise set under the same sharing rules as Navs.
func (s *Store) Orbits() Set { return s.orbits }
