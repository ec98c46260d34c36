package ephemeris

import "github.com/meridian-av/gnssd/internal/gnss"

// PolyParams is a precise ephemeris: per-axis polynomials fit over the
// position samples of an orbit product, evaluated in seconds relative to
// the fit center, plus a linear clock model.
type PolyParams struct {
	T0 gnss.Time `json:"t0"`

	// XYZ holds ascending-power coefficients per ECEF axis, meters.
	XYZ [3][]float64 `json:"xyz"`

	// Clock holds [bias, drift] in seconds and s/s.
	Clock [2]float64 `json:"clock"`
}

// evalPoly evaluates coefficients (ascending powers) and the derivative at
// dt by Horner's scheme.
func evalPoly(c []float64, dt float64) (v, dv float64) {
	for i := len(c) - 1; i >= 1; i-- {
		v = v*dt + c[i]
		dv = dv*dt + float64(i)*c[i]
	}
	if len(c) > 0 {
		v = v*dt + c[0]
	}
	return v, dv
}

func (p *PolyParams) state(t gnss.Time) (pos, vel [3]float64, clockErr, clockDrift float64) {
	dt := t.Sub(p.T0)
	for i := 0; i < 3; i++ {
		pos[i], vel[i] = evalPoly(p.XYZ[i], dt)
	}
	clockErr = p.Clock[0] + p.Clock[1]*dt
	clockDrift = p.Clock[1]
	return pos, vel, clockErr, clockDrift
}
