package ephemeris

import (
	"math"

	"github.com/meridian-av/gnssd/internal/gnss"
)

const (
	muGPS = 3.9860050e14 // earth gravitational constant, GPS ICD, m^3/s^2

	// relConst converts e*sqrt(A)*sin(E) to the relativistic clock
	// correction: -2*sqrt(mu)/c^2.
	relConst = -4.442807633e-10

	// velDiffStep is the differencing step for satellite velocity and
	// clock drift, seconds.
	velDiffStep = 1e-3
)

// KeplerParams is a broadcast navigation record for GPS-like constellations
// (GPS, Galileo, BeiDou, QZSS): Keplerian elements, harmonic corrections
// and the clock polynomial, as decoded from the subframe data.
type KeplerParams struct {
	TOE gnss.Time `json:"toe"`
	TOC gnss.Time `json:"toc"`

	AF0 float64 `json:"af0"`
	AF1 float64 `json:"af1"`
	AF2 float64 `json:"af2"`

	CRS float64 `json:"crs"`
	CRC float64 `json:"crc"`
	CUS float64 `json:"cus"`
	CUC float64 `json:"cuc"`
	CIS float64 `json:"cis"`
	CIC float64 `json:"cic"`

	DeltaN float64 `json:"deltaN"`
	M0     float64 `json:"m0"`
	Ecc    float64 `json:"ecc"`
	SqrtA  float64 `json:"sqrtA"`

	Omega0   float64 `json:"omega0"`
	I0       float64 `json:"i0"`
	Omega    float64 `json:"omega"`
	OmegaDot float64 `json:"omegaDot"`
	IDot     float64 `json:"iDot"`

	TGD float64 `json:"tgd"`
}

// solveKepler iterates E - e*sin(E) = M by Newton's method.
func solveKepler(m, ecc float64) float64 {
	e := m
	for i := 0; i < 30; i++ {
		d := (e - ecc*math.Sin(e) - m) / (1.0 - ecc*math.Cos(e))
		e -= d
		if math.Abs(d) < 1e-13 {
			break
		}
	}
	return e
}

// position evaluates the Kepler orbit at t, returning the ECEF position and
// the eccentric anomaly (needed for the relativistic clock term).
func (k *KeplerParams) position(t gnss.Time) (pos [3]float64, ecc float64) {
	a := k.SqrtA * k.SqrtA
	tk := t.Sub(k.TOE)

	n := math.Sqrt(muGPS/(a*a*a)) + k.DeltaN
	m := k.M0 + n*tk
	e := solveKepler(m, k.Ecc)

	sinE, cosE := math.Sincos(e)
	nu := math.Atan2(math.Sqrt(1.0-k.Ecc*k.Ecc)*sinE, cosE-k.Ecc)

	u := nu + k.Omega
	r := a * (1.0 - k.Ecc*cosE)
	i := k.I0 + k.IDot*tk

	sin2u, cos2u := math.Sincos(2.0 * u)
	u += k.CUS*sin2u + k.CUC*cos2u
	r += k.CRS*sin2u + k.CRC*cos2u
	i += k.CIS*sin2u + k.CIC*cos2u

	x := r * math.Cos(u)
	y := r * math.Sin(u)

	omegaK := k.Omega0 + (k.OmegaDot-gnss.EarthRotationRate)*tk - gnss.EarthRotationRate*k.TOE.TOW
	sinO, cosO := math.Sincos(omegaK)
	sinI, cosI := math.Sincos(i)

	pos[0] = x*cosO - y*cosI*sinO
	pos[1] = x*sinO + y*cosI*cosO
	pos[2] = y * sinI
	return pos, e
}

// clock evaluates the satellite clock error at t, including the
// relativistic correction and the group delay.
func (k *KeplerParams) clock(t gnss.Time, eccAnomaly float64) float64 {
	dt := t.Sub(k.TOC)
	rel := relConst * k.Ecc * k.SqrtA * math.Sin(eccAnomaly)
	return k.AF0 + k.AF1*dt + k.AF2*dt*dt + rel - k.TGD
}

func (k *KeplerParams) state(t gnss.Time) (pos, vel [3]float64, clockErr, clockDrift float64) {
	pos, e := k.position(t)
	clockErr = k.clock(t, e)

	// Velocity and drift by symmetric differencing, the same scheme the
	// precise-orbit path uses.
	ahead, eAhead := k.position(t.Add(velDiffStep))
	behind, eBehind := k.position(t.Add(-velDiffStep))
	for i := 0; i < 3; i++ {
		vel[i] = (ahead[i] - behind[i]) / (2.0 * velDiffStep)
	}
	clockDrift = (k.clock(t.Add(velDiffStep), eAhead) - k.clock(t.Add(-velDiffStep), eBehind)) / (2.0 * velDiffStep)
	return pos, vel, clockErr, clockDrift
}
