// Package ephemeris resolves satellite positions, velocities and clock
// errors from broadcast navigation messages and precise orbit products, and
// maintains the store the estimator selects ephemerides from.
package ephemeris

import (
	"errors"
	"fmt"
	"math"

	"github.com/meridian-av/gnssd/internal/gnss"
)

// Type distinguishes how an ephemeris was obtained. Broadcast navigation
// messages arrive over the air through the receiver; ultra-rapid orbits are
// downloaded product files.
type Type uint8

const (
	TypeNav Type = iota
	TypeUltraRapidOrbit
)

var typeNames = map[Type]string{
	TypeNav:             "nav",
	TypeUltraRapidOrbit: "ultraRapidOrbit",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// Validity half-windows in seconds, by parameter family. An ephemeris is
// usable while |t - epoch| stays under the window.
const (
	maxAgeKepler  = 2 * 3600.0
	maxAgeGlonass = 25 * 60.0
	maxAgePoly    = 3600.0
)

// ErrNotValid is returned by SatelliteState when the requested time falls
// outside the ephemeris validity window.
var ErrNotValid = errors.New("ephemeris not valid at requested time")

// Ephemeris carries the orbital and clock parameters of one satellite from
// one source. Exactly one of Kepler, Glonass or Poly is set, matching Type:
// nav ephemerides carry Kepler or Glonass parameters, orbit products carry
// Poly. The JSON form is the cache wire format; every parameter field is
// tagged so snapshots restore losslessly without shape guessing.
type Ephemeris struct {
	Satellite gnss.SatelliteID `json:"satellite"`
	Type      Type             `json:"type"`

	// Epoch is the reference instant of the parameter set: time of clock
	// for Kepler sets, time of ephemeris for GLONASS sets, fit center for
	// polynomial sets.
	Epoch gnss.Time `json:"epoch"`

	// FileEpoch and FileName identify the orbit product an ephemeris was
	// cut from. Empty for broadcast ephemerides.
	FileEpoch *gnss.Time `json:"fileEpoch,omitempty"`
	FileName  string     `json:"fileName,omitempty"`

	Kepler  *KeplerParams  `json:"kepler,omitempty"`
	Glonass *GlonassParams `json:"glonass,omitempty"`
	Poly    *PolyParams    `json:"poly,omitempty"`
}

// maxTimeDiff returns the validity half-window for the parameter family.
func (e *Ephemeris) maxTimeDiff() float64 {
	switch {
	case e.Kepler != nil:
		return maxAgeKepler
	case e.Glonass != nil:
		return maxAgeGlonass
	default:
		return maxAgePoly
	}
}

// Valid reports whether the ephemeris may be evaluated at t.
func (e *Ephemeris) Valid(t gnss.Time) bool {
	return math.Abs(t.Sub(e.Epoch)) <= e.maxTimeDiff()
}

// Ref returns the plain-data reference used by output assembly to map this
// ephemeris to a source descriptor.
func (e *Ephemeris) Ref() gnss.EphemerisRef {
	ref := gnss.EphemerisRef{Precise: e.Type != TypeNav}
	if e.FileEpoch != nil {
		ref.FileEpoch = *e.FileEpoch
	}
	if len(e.FileName) >= 3 {
		ref.FilePrefix = e.FileName[:3]
	}
	return ref
}

// SatelliteState evaluates the satellite position and velocity (ECEF,
// meters) and clock error and drift (seconds, s/s) at time t.
func (e *Ephemeris) SatelliteState(t gnss.Time) (pos, vel [3]float64, clockErr, clockDrift float64, err error) {
	if !e.Valid(t) {
		return pos, vel, 0, 0, fmt.Errorf("%w: sat %s, epoch %s, t %s", ErrNotValid, e.Satellite, e.Epoch, t)
	}
	switch {
	case e.Kepler != nil:
		pos, vel, clockErr, clockDrift = e.Kepler.state(t)
	case e.Glonass != nil:
		pos, vel, clockErr, clockDrift = e.Glonass.state(t)
	case e.Poly != nil:
		pos, vel, clockErr, clockDrift = e.Poly.state(t)
	default:
		return pos, vel, 0, 0, fmt.Errorf("ephemeris for %s carries no parameters", e.Satellite)
	}
	return pos, vel, clockErr, clockDrift, nil
}
