package kalman

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testReceiver = [3]float64{-2694e3, -4297e3, 3854e3}

// testSatellites places a usable constellation around the receiver: one
// overhead, four tilted off to the sides.
func testSatellites() [][3]float64 {
	norm := math.Sqrt(testReceiver[0]*testReceiver[0] + testReceiver[1]*testReceiver[1] + testReceiver[2]*testReceiver[2])
	up := [3]float64{testReceiver[0] / norm, testReceiver[1] / norm, testReceiver[2] / norm}

	// Two tangent directions orthogonal to up.
	t1 := [3]float64{-up[1], up[0], 0}
	t1n := math.Sqrt(t1[0]*t1[0] + t1[1]*t1[1])
	t1 = [3]float64{t1[0] / t1n, t1[1] / t1n, 0}
	t2 := [3]float64{
		up[1]*t1[2] - up[2]*t1[1],
		up[2]*t1[0] - up[0]*t1[2],
		up[0]*t1[1] - up[1]*t1[0],
	}

	const radius = 26560e3
	place := func(a, b float64) [3]float64 {
		dir := [3]float64{
			up[0] + a*t1[0] + b*t2[0],
			up[1] + a*t1[1] + b*t2[1],
			up[2] + a*t1[2] + b*t2[2],
		}
		n := math.Sqrt(dir[0]*dir[0] + dir[1]*dir[1] + dir[2]*dir[2])
		return [3]float64{radius * dir[0] / n, radius * dir[1] / n, radius * dir[2] / n}
	}
	return [][3]float64{
		place(0, 0),
		place(0.5, 0),
		place(-0.5, 0.1),
		place(0, 0.5),
		place(0.3, -0.5),
	}
}

func rangeTo(sat [3]float64) float64 {
	dx := sat[0] - testReceiver[0]
	dy := sat[1] - testReceiver[1]
	dz := sat[2] - testReceiver[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func pseudorangeBatch(clockBias float64) []Observation {
	sats := testSatellites()
	obs := make([]Observation, len(sats))
	for i, sat := range sats {
		obs[i] = Observation{
			Value:  rangeTo(sat) + clockBias,
			Std:    2,
			SatPos: sat,
		}
	}
	return obs
}

func TestFilterConvergesToStaticReceiver(t *testing.T) {
	t.Parallel()

	f := NewFilter()

	// Start the way a reset does: position anchored near a fix, clock wide
	// open.
	x := DefaultInitialState()
	covs := DefaultInitialCovDiag()
	for i := 0; i < 3; i++ {
		x[IdxPosX+i] = testReceiver[i] + 150
		covs[IdxPosX+i] = 1000 * 1000
	}
	f.InitState(x, covs)

	const trueClockBias = 1500.0
	for epoch := 0; epoch < 8; epoch++ {
		f.PredictAndObserve(float64(epoch), KindPseudorangeGPS, pseudorangeBatch(trueClockBias))
	}

	state := f.State()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, testReceiver[i], state[IdxPosX+i], 2.0, "position axis %d", i)
	}
	assert.InDelta(t, trueClockBias, state[IdxClockBias], 5.0, "clock bias")

	cov := f.CovarianceDiag()
	for i := 0; i < 3; i++ {
		assert.Less(t, cov[IdxPosX+i], 100.0, "position covariance should tighten")
	}
}

func TestFilterTimeAnchoring(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	require.True(t, math.IsNaN(f.Time()), "fresh filter time undefined")

	f.Predict(100)
	assert.Equal(t, 100.0, f.Time(), "first predict anchors time")

	before := f.CovarianceDiag()
	f.Predict(99)
	assert.Equal(t, 100.0, f.Time(), "backward predict ignored")
	assert.Equal(t, before, f.CovarianceDiag())

	f.Predict(102)
	assert.Equal(t, 102.0, f.Time())
	after := f.CovarianceDiag()
	assert.Greater(t, after[IdxPosX], before[IdxPosX], "process noise inflates covariance")
}

func TestFilterPredictMovesWithVelocity(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	x := DefaultInitialState()
	x[IdxPosX] = 1000
	x[IdxVelX] = 10
	x[IdxClockBias] = 100
	x[IdxClockDrift] = 2
	f.InitState(x, DefaultInitialCovDiag())

	f.Predict(0)
	f.Predict(5)

	state := f.State()
	assert.InDelta(t, 1050, state[IdxPosX], 1e-9)
	assert.InDelta(t, 110, state[IdxClockBias], 1e-9)
}

func TestFilterRateObservationsRecoverVelocity(t *testing.T) {
	t.Parallel()

	trueVel := [3]float64{12, -5, 3}
	sats := testSatellites()

	f := NewFilter()
	x := DefaultInitialState()
	covs := DefaultInitialCovDiag()
	for i := 0; i < 3; i++ {
		x[IdxPosX+i] = testReceiver[i]
		covs[IdxPosX+i] = 1 // position pinned
	}
	f.InitState(x, covs)

	obs := make([]Observation, len(sats))
	for i, sat := range sats {
		rng := rangeTo(sat)
		los := [3]float64{
			(sat[0] - testReceiver[0]) / rng,
			(sat[1] - testReceiver[1]) / rng,
			(sat[2] - testReceiver[2]) / rng,
		}
		satVel := [3]float64{0, 0, 0}
		rate := los[0]*(satVel[0]-trueVel[0]) + los[1]*(satVel[1]-trueVel[1]) + los[2]*(satVel[2]-trueVel[2])
		obs[i] = Observation{Value: rate, Std: 0.5, SatPos: sat, SatVel: satVel}
	}

	for epoch := 0; epoch < 6; epoch++ {
		f.PredictAndObserve(float64(epoch), KindPseudorangeRateGPS, obs)
	}

	state := f.State()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, trueVel[i], state[IdxVelX+i], 0.5, "velocity axis %d", i)
	}
}

func TestFilterGlonassBiasAbsorbsOffset(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	x := DefaultInitialState()
	covs := DefaultInitialCovDiag()
	for i := 0; i < 3; i++ {
		x[IdxPosX+i] = testReceiver[i]
		covs[IdxPosX+i] = 1
	}
	covs[IdxClockBias] = 1 // clock pinned too
	f.InitState(x, covs)

	const glonassBias = 50.0
	obs := pseudorangeBatch(glonassBias)
	for i := range obs {
		obs[i].GlonassSlot = float64(i - 2)
	}

	for epoch := 0; epoch < 6; epoch++ {
		f.PredictAndObserve(float64(epoch), KindPseudorangeGLONASS, obs)
	}

	state := f.State()
	assert.InDelta(t, glonassBias, state[IdxGloBias], 15, "inter-system bias")
	assert.Less(t, math.Abs(state[IdxClockBias]), 10.0, "pinned clock stays put")
}

func TestPredictAndObserveEmptyBatch(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	f.PredictAndObserve(50, KindPseudorangeGPS, nil)
	assert.True(t, math.IsNaN(f.Time()), "empty batch must not touch the filter")
}

func TestObservationKindStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pseudorangeGPS", KindPseudorangeGPS.String())
	assert.Equal(t, "pseudorangeRateGLONASS", KindPseudorangeRateGLONASS.String())
	assert.True(t, KindPseudorangeRateGLONASS.isRate())
	assert.True(t, KindPseudorangeGLONASS.isGlonass())
	assert.False(t, KindPseudorangeGPS.isGlonass())
}
