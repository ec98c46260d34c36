package ephemeris

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/meridian-av/gnssd/internal/gnss"
)

const (
	// sp3BadClock marks a missing clock value in SP3 records, microseconds.
	sp3BadClock = 999999.0

	// sp3FitSamples is the window length for one fitted polynomial; at the
	// usual 15 minute product cadence this spans 2.5 hours.
	sp3FitSamples = 11

	// sp3FitStep is the sample stride between consecutive fit windows.
	sp3FitStep = 4

	// sp3FitScale normalizes the fit abscissa to sample units to keep the
	// Vandermonde system conditioned.
	sp3FitScale = 900.0
)

type sp3Sample struct {
	t     gnss.Time
	pos   [3]float64 // m
	clk   float64    // s
	clkOK bool
}

// parseSP3 reads the epoch and position records of an SP3 product. Velocity
// records and header lines are ignored; positions convert from km to
// meters, clocks from microseconds to seconds.
func parseSP3(data []byte) (samples map[gnss.SatelliteID][]sp3Sample, fileEpoch gnss.Time, err error) {
	samples = make(map[gnss.SatelliteID][]sp3Sample)
	var current gnss.Time
	haveEpoch := false
	haveFileEpoch := false

	for lineNo, line := range strings.Split(string(data), "\n") {
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case '*':
			fields := strings.Fields(line[1:])
			if len(fields) < 6 {
				return nil, gnss.Time{}, fmt.Errorf("line %d: malformed epoch record", lineNo+1)
			}
			var parts [5]int
			for i := 0; i < 5; i++ {
				if parts[i], err = strconv.Atoi(fields[i]); err != nil {
					return nil, gnss.Time{}, fmt.Errorf("line %d: epoch field %q: %w", lineNo+1, fields[i], err)
				}
			}
			sec, err := strconv.ParseFloat(fields[5], 64)
			if err != nil {
				return nil, gnss.Time{}, fmt.Errorf("line %d: epoch seconds %q: %w", lineNo+1, fields[5], err)
			}
			ts := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], 0, 0, time.UTC)
			current = gnss.TimeFromUTC(ts).Add(sec)
			haveEpoch = true
			if !haveFileEpoch {
				fileEpoch = current
				haveFileEpoch = true
			}

		case 'P':
			if !haveEpoch {
				return nil, gnss.Time{}, fmt.Errorf("line %d: position record before first epoch", lineNo+1)
			}
			fields := strings.Fields(line)
			if len(fields) < 5 || len(fields[0]) != 4 {
				continue
			}
			sat, err := gnss.ParseSatelliteID(fields[0][1:])
			if err != nil {
				continue
			}
			var vals [4]float64
			ok := true
			for i := 0; i < 4; i++ {
				if vals[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			samples[sat] = append(samples[sat], sp3Sample{
				t:     current,
				pos:   [3]float64{vals[0] * 1e3, vals[1] * 1e3, vals[2] * 1e3},
				clk:   vals[3] * 1e-6,
				clkOK: vals[3] < sp3BadClock,
			})
		}
	}

	if !haveFileEpoch || len(samples) == 0 {
		return nil, gnss.Time{}, fmt.Errorf("no position records found")
	}
	return samples, fileEpoch, nil
}

// polyfit fits ascending-power coefficients of the given degree to (x, y)
// by QR least squares. x is expected pre-normalized.
func polyfit(x, y []float64, degree int) ([]float64, error) {
	n := len(x)
	if n < degree+1 {
		return nil, fmt.Errorf("polyfit: %d samples for degree %d", n, degree)
	}
	a := mat.NewDense(n, degree+1, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		p := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, p)
			p *= x[i]
		}
		b.SetVec(i, y[i])
	}

	var qr mat.QR
	qr.Factorize(a)
	coeffs := mat.NewVecDense(degree+1, nil)
	if err := qr.SolveVecTo(coeffs, false, b); err != nil {
		return nil, fmt.Errorf("polyfit: %w", err)
	}
	out := make([]float64, degree+1)
	for j := 0; j <= degree; j++ {
		out[j] = coeffs.AtVec(j)
	}
	return out, nil
}

// fitWindow builds one polynomial ephemeris over a window of samples.
func fitWindow(sat gnss.SatelliteID, window []sp3Sample, fileEpoch gnss.Time, fileName string) (*Ephemeris, error) {
	center := window[len(window)/2].t

	xs := make([]float64, len(window))
	for i, s := range window {
		xs[i] = s.t.Sub(center) / sp3FitScale
	}

	var poly PolyParams
	poly.T0 = center
	for axis := 0; axis < 3; axis++ {
		ys := make([]float64, len(window))
		for i, s := range window {
			ys[i] = s.pos[axis]
		}
		coeffs, err := polyfit(xs, ys, len(window)-1)
		if err != nil {
			return nil, err
		}
		// Rescale from sample units back to seconds.
		scale := 1.0
		for j := range coeffs {
			coeffs[j] /= scale
			scale *= sp3FitScale
		}
		poly.XYZ[axis] = coeffs
	}

	// The clock gets a linear model over samples with usable values.
	var ct, cv []float64
	for _, s := range window {
		if s.clkOK {
			ct = append(ct, s.t.Sub(center))
			cv = append(cv, s.clk)
		}
	}
	switch {
	case len(ct) >= 2:
		coeffs, err := polyfit(ct, cv, 1)
		if err != nil {
			return nil, err
		}
		poly.Clock = [2]float64{coeffs[0], coeffs[1]}
	case len(ct) == 1:
		poly.Clock = [2]float64{cv[0], 0}
	default:
		return nil, fmt.Errorf("no usable clock samples for %s", sat)
	}

	epoch := fileEpoch
	return &Ephemeris{
		Satellite: sat,
		Type:      TypeUltraRapidOrbit,
		Epoch:     center,
		FileEpoch: &epoch,
		FileName:  fileName,
		Poly:      &poly,
	}, nil
}

// fitOrbits converts parsed SP3 samples into windowed polynomial
// ephemerides. Satellites with too few samples, gaps, or unusable fits are
// skipped.
func fitOrbits(samples map[gnss.SatelliteID][]sp3Sample, fileEpoch gnss.Time, fileName string) (Set, Span) {
	set := NewSet()
	var span Span
	haveSpan := false

	for sat, list := range samples {
		if len(list) < sp3FitSamples {
			continue
		}
		for start := 0; start+sp3FitSamples <= len(list); start += sp3FitStep {
			window := list[start : start+sp3FitSamples]
			if gap(window) {
				continue
			}
			e, err := fitWindow(sat, window, fileEpoch, fileName)
			if err != nil {
				continue
			}
			set.Add(e)
			first, last := window[0].t, window[len(window)-1].t
			if !haveSpan {
				span = Span{Start: first, End: last}
				haveSpan = true
				continue
			}
			if first.Before(span.Start) {
				span.Start = first
			}
			if span.End.Before(last) {
				span.End = last
			}
		}
	}
	return set, span
}

// gap reports whether consecutive samples are further apart than twice the
// nominal product cadence.
func gap(window []sp3Sample) bool {
	for i := 1; i < len(window); i++ {
		if math.Abs(window[i].t.Sub(window[i-1].t)) > 2*sp3FitScale {
			return true
		}
	}
	return false
}
