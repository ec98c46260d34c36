package ephemeris

import (
	"math"

	"github.com/meridian-av/gnssd/internal/gnss"
)

const (
	muGLO    = 3.9860044e14 // earth gravitational constant, PZ-90, m^3/s^2
	j2GLO    = 1.0826257e-3 // second zonal harmonic
	radiusPZ = 6378136.0    // PZ-90 earth radius, m

	// integrationStep is the RK4 step for state vector propagation,
	// seconds.
	integrationStep = 60.0
)

// GlonassParams is a broadcast GLONASS navigation record: the ECEF state
// vector and lunisolar acceleration at the reference epoch plus the clock
// offset and relative frequency deviation.
type GlonassParams struct {
	TOE gnss.Time `json:"toe"`

	Pos [3]float64 `json:"pos"` // m
	Vel [3]float64 `json:"vel"` // m/s
	Acc [3]float64 `json:"acc"` // m/s^2

	TauN     float64 `json:"tauN"`     // clock offset, s
	GammaN   float64 `json:"gammaN"`   // relative frequency deviation
	FreqSlot int     `json:"freqSlot"` // FDMA channel, -7..+6
}

// orbitDeriv evaluates the GLONASS equations of motion in the rotating
// PZ-90 frame, including the J2 oblateness term.
func orbitDeriv(x *[6]float64, acc [3]float64) [6]float64 {
	r2 := x[0]*x[0] + x[1]*x[1] + x[2]*x[2]
	r3 := r2 * math.Sqrt(r2)
	omg2 := gnss.EarthRotationRate * gnss.EarthRotationRate

	var out [6]float64
	if r2 <= 0 {
		return out
	}
	a := 1.5 * j2GLO * muGLO * radiusPZ * radiusPZ / r2 / r3
	b := 5.0 * x[2] * x[2] / r2
	c := -muGLO/r3 - a*(1.0-b)

	out[0], out[1], out[2] = x[3], x[4], x[5]
	out[3] = (c+omg2)*x[0] + 2.0*gnss.EarthRotationRate*x[4] + acc[0]
	out[4] = (c+omg2)*x[1] - 2.0*gnss.EarthRotationRate*x[3] + acc[1]
	out[5] = (c-2.0*a)*x[2] + acc[2]
	return out
}

// rk4Step advances the state vector by h seconds.
func rk4Step(x *[6]float64, acc [3]float64, h float64) {
	k1 := orbitDeriv(x, acc)
	var w [6]float64
	for i := range w {
		w[i] = x[i] + k1[i]*h/2.0
	}
	k2 := orbitDeriv(&w, acc)
	for i := range w {
		w[i] = x[i] + k2[i]*h/2.0
	}
	k3 := orbitDeriv(&w, acc)
	for i := range w {
		w[i] = x[i] + k3[i]*h
	}
	k4 := orbitDeriv(&w, acc)
	for i := range x {
		x[i] += (k1[i] + 2.0*k2[i] + 2.0*k3[i] + k4[i]) * h / 6.0
	}
}

func (g *GlonassParams) state(t gnss.Time) (pos, vel [3]float64, clockErr, clockDrift float64) {
	dt := t.Sub(g.TOE)
	clockErr = -g.TauN + g.GammaN*dt
	clockDrift = g.GammaN

	x := [6]float64{g.Pos[0], g.Pos[1], g.Pos[2], g.Vel[0], g.Vel[1], g.Vel[2]}
	for remain := dt; math.Abs(remain) > 1e-9; {
		step := integrationStep
		if math.Abs(remain) < integrationStep {
			step = math.Abs(remain)
		}
		if remain < 0 {
			step = -step
		}
		rk4Step(&x, g.Acc, step)
		remain -= step
	}

	pos = [3]float64{x[0], x[1], x[2]}
	vel = [3]float64{x[3], x[4], x[5]}
	return pos, vel, clockErr, clockDrift
}
