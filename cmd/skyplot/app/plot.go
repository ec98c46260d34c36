package app

import (
	"math"
	"slices"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/estimator"
	"github.com/meridian-av/gnssd/internal/gnss"
)

// SkySatellite is one plotted satellite: its chart position and which kind
// of ephemeris placed it there.
type SkySatellite struct {
	ID        gnss.SatelliteID
	Azimuth   float64 // radians clockwise from north
	Elevation float64 // radians above the horizon
	Precise   bool    // placed from an orbit product rather than broadcast nav
}

// buildSkyView evaluates every cached satellite at t as seen from the
// receiver (ECEF), dropping satellites with no ephemeris valid at t and
// satellites below the elevation mask (radians). Orbit products take
// precedence over broadcast records, matching the estimator's selection.
func buildSkyView(snap *estimator.Snapshot, receiver [3]float64, t gnss.Time, mask float64) []SkySatellite {
	st := ephemeris.NewStore([]gnss.Constellation{gnss.ConstellationGPS, gnss.ConstellationGLONASS})
	st.AddNavs(snap.Nav)
	st.AddOrbits(snap.Orbits)

	sats := make(map[gnss.SatelliteID]struct{}, len(snap.Nav)+len(snap.Orbits))
	for sat := range snap.Nav {
		sats[sat] = struct{}{}
	}
	for sat := range snap.Orbits {
		sats[sat] = struct{}{}
	}

	view := make([]SkySatellite, 0, len(sats))
	for sat := range sats {
		eph := st.Select(sat, t)
		if eph == nil {
			continue
		}
		pos, _, _, _, err := eph.SatelliteState(t)
		if err != nil {
			continue
		}
		az, el := gnss.AzimuthElevation(receiver, pos)
		if el < mask {
			continue
		}
		view = append(view, SkySatellite{
			ID:        sat,
			Azimuth:   az,
			Elevation: el,
			Precise:   eph.Type != ephemeris.TypeNav,
		})
	}

	slices.SortFunc(view, func(a, b SkySatellite) int {
		if c := int(a.ID.Constellation) - int(b.ID.Constellation); c != 0 {
			return c
		}
		return int(a.ID.PRN) - int(b.ID.PRN)
	})
	return view
}

// defaultPlotTime returns the newest ephemeris epoch in the snapshot, the
// closest thing to "now" an offline cache knows.
func defaultPlotTime(snap *estimator.Snapshot) (gnss.Time, bool) {
	var newest gnss.Time
	found := false
	scan := func(set ephemeris.Set) {
		for _, list := range set {
			for _, e := range list {
				if !found || newest.Before(e.Epoch) {
					newest = e.Epoch
					found = true
				}
			}
		}
	}
	scan(snap.Nav)
	scan(snap.Orbits)
	return newest, found
}

// polarProject maps a sky direction onto a circle of radius r centered at
// (cx, cy): zenith at the center, the horizon on the rim, north up, east
// right.
func polarProject(az, el float64, cx, cy, r float64) (x, y float64) {
	rho := r * (1 - el/(math.Pi/2))
	return cx + rho*math.Sin(az), cy - rho*math.Cos(az)
}
