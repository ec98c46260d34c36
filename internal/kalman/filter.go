// Package kalman implements the extended Kalman filter behind the position
// and velocity outputs. The state models a single receiver: ECEF position
// and velocity, a receiver clock polynomial, and the GLONASS inter-system
// biases. All clock states are expressed in meters so observation models
// stay linear in them.
package kalman

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// State vector layout.
const (
	StateDim = 11

	IdxPosX       = 0
	IdxPosY       = 1
	IdxPosZ       = 2
	IdxVelX       = 3
	IdxVelY       = 4
	IdxVelZ       = 5
	IdxClockBias  = 6 // m
	IdxClockDrift = 7 // m/s
	IdxClockAccel = 8 // m/s^2
	IdxGloBias    = 9 // m, GLONASS inter-system bias
	IdxGloSlope   = 10
)

// ObservationKind selects the measurement model for a batch. The four kinds
// mirror the router's batches; both rate kinds share one model.
type ObservationKind uint8

const (
	KindPseudorangeGPS ObservationKind = iota
	KindPseudorangeRateGPS
	KindPseudorangeGLONASS
	KindPseudorangeRateGLONASS
)

func (k ObservationKind) String() string {
	switch k {
	case KindPseudorangeGPS:
		return "pseudorangeGPS"
	case KindPseudorangeRateGPS:
		return "pseudorangeRateGPS"
	case KindPseudorangeGLONASS:
		return "pseudorangeGLONASS"
	case KindPseudorangeRateGLONASS:
		return "pseudorangeRateGLONASS"
	default:
		return "unknown"
	}
}

// isRate reports whether the kind observes pseudorange rate.
func (k ObservationKind) isRate() bool {
	return k == KindPseudorangeRateGPS || k == KindPseudorangeRateGLONASS
}

// isGlonass reports whether the pseudorange model carries the GLONASS bias
// terms.
func (k ObservationKind) isGlonass() bool {
	return k == KindPseudorangeGLONASS || k == KindPseudorangeRateGLONASS
}

// Observation is one satellite's contribution to a batch: the measured
// value with its standard deviation and the satellite state the model
// needs.
type Observation struct {
	Value float64
	Std   float64

	SatPos [3]float64
	SatVel [3]float64

	// GlonassSlot is the FDMA channel for the frequency-slope bias term;
	// zero for non-GLONASS satellites.
	GlonassSlot float64
}

// Process noise densities per second of propagation, squared units.
var processNoiseDiag = [StateDim]float64{
	0.03, 0.03, 0.03,
	0.1, 0.1, 0.1,
	1.0, 0.1, 0.005,
	0.1, 0.01,
}

// Filter is the extended Kalman filter. Not safe for concurrent use; the
// estimation loop owns it.
type Filter struct {
	x *mat.VecDense
	p *mat.Dense

	// t is the filter time in epoch seconds; NaN until the first
	// prediction or observation after a reset.
	t float64
}

// NewFilter returns a filter initialized to the default state with
// undefined time.
func NewFilter() *Filter {
	f := &Filter{
		x: mat.NewVecDense(StateDim, nil),
		p: mat.NewDense(StateDim, StateDim, nil),
		t: math.NaN(),
	}
	f.InitState(DefaultInitialState(), DefaultInitialCovDiag())
	return f
}

// DefaultInitialState returns the model's cold-start state vector.
func DefaultInitialState() [StateDim]float64 {
	return [StateDim]float64{}
}

// DefaultInitialCovDiag returns the cold-start covariance diagonal: wide
// open on position and clock, moderate elsewhere.
func DefaultInitialCovDiag() [StateDim]float64 {
	return [StateDim]float64{
		1e8, 1e8, 1e8,
		1e2, 1e2, 1e2,
		1e10, 1e4, 1e2,
		1e4, 1e2,
	}
}

// InitState resets the state vector and covariance diagonal and marks the
// filter time undefined. The next predict or observe re-anchors time.
func (f *Filter) InitState(x [StateDim]float64, covDiag [StateDim]float64) {
	for i := 0; i < StateDim; i++ {
		f.x.SetVec(i, x[i])
		for j := 0; j < StateDim; j++ {
			f.p.Set(i, j, 0)
		}
		f.p.Set(i, i, covDiag[i])
	}
	f.t = math.NaN()
}

// Time returns the filter time, NaN when uninitialized.
func (f *Filter) Time() float64 { return f.t }

// State returns a copy of the state vector.
func (f *Filter) State() [StateDim]float64 {
	var out [StateDim]float64
	for i := 0; i < StateDim; i++ {
		out[i] = f.x.AtVec(i)
	}
	return out
}

// CovarianceDiag returns a copy of the covariance diagonal.
func (f *Filter) CovarianceDiag() [StateDim]float64 {
	var out [StateDim]float64
	for i := 0; i < StateDim; i++ {
		out[i] = f.p.At(i, i)
	}
	return out
}

// Predict propagates the state to t. With undefined filter time it anchors
// time without propagating; backward steps are ignored.
func (f *Filter) Predict(t float64) {
	if math.IsNaN(f.t) {
		f.t = t
		return
	}
	dt := t - f.t
	if dt <= 0 {
		return
	}
	f.propagate(dt)
	f.t = t
}

// propagate applies the constant-velocity, clock-polynomial transition over
// dt seconds and inflates the covariance with process noise.
func (f *Filter) propagate(dt float64) {
	phi := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		phi.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		phi.Set(IdxPosX+i, IdxVelX+i, dt)
	}
	phi.Set(IdxClockBias, IdxClockDrift, dt)
	phi.Set(IdxClockBias, IdxClockAccel, 0.5*dt*dt)
	phi.Set(IdxClockDrift, IdxClockAccel, dt)

	var nx mat.VecDense
	nx.MulVec(phi, f.x)
	f.x.CopyVec(&nx)

	var pp mat.Dense
	pp.Mul(phi, f.p)
	var npd mat.Dense
	npd.Mul(&pp, phi.T())
	for i := 0; i < StateDim; i++ {
		npd.Set(i, i, npd.At(i, i)+processNoiseDiag[i]*dt)
	}
	f.p.Copy(&npd)
}

// PredictAndObserve propagates to t and folds in one observation batch.
// Empty batches are rejected by the router before they get here; a nil or
// empty slice is a silent no-op as a safety net.
func (f *Filter) PredictAndObserve(t float64, kind ObservationKind, obs []Observation) {
	if len(obs) == 0 {
		return
	}
	f.Predict(t)
	f.observe(kind, obs)
}

// observe performs a joint EKF update for one batch.
func (f *Filter) observe(kind ObservationKind, obs []Observation) {
	n := len(obs)
	h := mat.NewDense(n, StateDim, nil)
	y := mat.NewVecDense(n, nil)
	rDiag := make([]float64, n)

	for i, o := range obs {
		pred, grad := f.model(kind, o)
		y.SetVec(i, o.Value-pred)
		for j := 0; j < StateDim; j++ {
			h.Set(i, j, grad[j])
		}
		std := o.Std
		if std <= 0 {
			std = 1
		}
		rDiag[i] = std * std
	}

	// S = H P H^T + R
	var ph mat.Dense
	ph.Mul(f.p, h.T())
	var s mat.Dense
	s.Mul(h, &ph)
	for i := 0; i < n; i++ {
		s.Set(i, i, s.At(i, i)+rDiag[i])
	}

	// K = P H^T S^-1, via solving S^T K^T = (P H^T)^T
	var kT mat.Dense
	if err := kT.Solve(s.T(), ph.T()); err != nil {
		return
	}
	k := kT.T()

	var dx mat.VecDense
	dx.MulVec(k, y)
	f.x.AddVec(f.x, &dx)

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(k, h)
	ikh := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)
	var np mat.Dense
	np.Mul(ikh, f.p)
	f.p.Copy(&np)
}

// model evaluates the predicted measurement and its gradient for one
// observation under the batch kind.
func (f *Filter) model(kind ObservationKind, o Observation) (pred float64, grad [StateDim]float64) {
	var rel [3]float64
	for i := 0; i < 3; i++ {
		rel[i] = o.SatPos[i] - f.x.AtVec(IdxPosX+i)
	}
	rng := math.Sqrt(rel[0]*rel[0] + rel[1]*rel[1] + rel[2]*rel[2])
	if rng < 1 {
		rng = 1
	}

	if !kind.isRate() {
		pred = rng + f.x.AtVec(IdxClockBias)
		for i := 0; i < 3; i++ {
			grad[IdxPosX+i] = -rel[i] / rng
		}
		grad[IdxClockBias] = 1
		if kind.isGlonass() {
			pred += f.x.AtVec(IdxGloBias) + f.x.AtVec(IdxGloSlope)*o.GlonassSlot
			grad[IdxGloBias] = 1
			grad[IdxGloSlope] = o.GlonassSlot
		}
		return pred, grad
	}

	// Rate: line-of-sight relative velocity plus clock drift.
	var vrel [3]float64
	for i := 0; i < 3; i++ {
		vrel[i] = o.SatVel[i] - f.x.AtVec(IdxVelX+i)
	}
	los := [3]float64{rel[0] / rng, rel[1] / rng, rel[2] / rng}
	losVel := los[0]*vrel[0] + los[1]*vrel[1] + los[2]*vrel[2]
	pred = losVel + f.x.AtVec(IdxClockDrift)

	for i := 0; i < 3; i++ {
		grad[IdxPosX+i] = (-vrel[i] + los[i]*losVel) / rng
		grad[IdxVelX+i] = -los[i]
	}
	grad[IdxClockDrift] = 1
	return pred, grad
}
