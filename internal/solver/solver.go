// Package solver computes single-epoch least-squares position fixes,
// independent of the recursive filter, to seed and cross-check it.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/meridian-av/gnssd/internal/gnss"
)

const (
	maxIterations = 10
	convergence   = 1e-4
)

// ErrInsufficientMeasurements is returned when fewer usable measurements
// arrive than the caller's minimum.
var ErrInsufficientMeasurements = errors.New("not enough measurements for position fix")

// Fix is a converged solution: the ECEF position and the per-measurement
// pseudorange residuals at the solution, unweighted, in meters.
type Fix struct {
	Position  [3]float64
	Residuals []float64
}

// SolvePositionFix runs Gauss-Newton least squares over receiver position
// and clock bias, with an extra inter-system bias parameter whenever
// GLONASS measurements are present. Satellite clock errors are applied to
// the pseudoranges inline; atmospheric terms are left to the correction
// pipeline. The caller chooses minMeasurements to keep the system
// overdetermined for the parameter count in play.
func SolvePositionFix(measurements []gnss.ProcessedMeasurement, minMeasurements int) (Fix, error) {
	n := len(measurements)
	if n < minMeasurements {
		return Fix{}, fmt.Errorf("%w: %d of %d", ErrInsufficientMeasurements, n, minMeasurements)
	}

	hasGlonass := false
	for _, m := range measurements {
		if m.Satellite.Constellation == gnss.ConstellationGLONASS {
			hasGlonass = true
			break
		}
	}
	dim := 4
	if hasGlonass {
		dim = 5
	}
	if n < dim {
		return Fix{}, fmt.Errorf("%w: %d of %d parameters", ErrInsufficientMeasurements, n, dim)
	}

	x := make([]float64, dim)
	jac := mat.NewDense(n, dim, nil)
	res := mat.NewVecDense(n, nil)
	delta := mat.NewVecDense(dim, nil)

	for iter := 0; iter < maxIterations; iter++ {
		for i, m := range measurements {
			r, grad := residual(x, dim, m)
			w := 1.0
			if m.PseudorangeStd > 0 {
				w = 1.0 / m.PseudorangeStd
			}
			res.SetVec(i, r*w)
			for j := 0; j < dim; j++ {
				jac.Set(i, j, grad[j]*w)
			}
		}

		var qr mat.QR
		qr.Factorize(jac)
		if err := qr.SolveVecTo(delta, false, res); err != nil {
			return Fix{}, fmt.Errorf("solving normal equations: %w", err)
		}
		step := 0.0
		for j := 0; j < dim; j++ {
			x[j] -= delta.AtVec(j)
			step += delta.AtVec(j) * delta.AtVec(j)
		}
		if math.Sqrt(step) < convergence {
			break
		}
	}

	fix := Fix{
		Position:  [3]float64{x[0], x[1], x[2]},
		Residuals: make([]float64, n),
	}
	for i, m := range measurements {
		r, _ := residual(x, dim, m)
		fix.Residuals[i] = r
	}
	return fix, nil
}

// residual evaluates one measurement's pseudorange residual and its
// gradient with respect to the solve state [x y z clockBias
// (glonassBias)].
func residual(x []float64, dim int, m gnss.ProcessedMeasurement) (float64, []float64) {
	pr := m.Pseudorange + gnss.SpeedOfLight*m.SatClockErr

	var rel [3]float64
	for i := 0; i < 3; i++ {
		rel[i] = x[i] - m.SatPos[i]
	}
	rng := math.Sqrt(rel[0]*rel[0] + rel[1]*rel[1] + rel[2]*rel[2])
	if rng < 1 {
		rng = 1
	}

	r := rng + x[3] - pr
	grad := make([]float64, dim)
	for i := 0; i < 3; i++ {
		grad[i] = rel[i] / rng
	}
	grad[3] = 1
	if dim == 5 {
		if m.Satellite.Constellation == gnss.ConstellationGLONASS {
			r += x[4]
			grad[4] = 1
		}
	}
	return r, grad
}
