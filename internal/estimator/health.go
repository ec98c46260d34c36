package estimator

import (
	"log/slog"
	"math"

	"github.com/meridian-av/gnssd/internal/gnss"
	"github.com/meridian-av/gnssd/internal/kalman"
)

const (
	// maxTimeGap is the largest filter time discontinuity a predict may
	// bridge, seconds. Anything larger forces a reset.
	maxTimeGap = 10.0

	// resetPosStd is the position standard deviation after a reset from a
	// fresh position fix, meters.
	resetPosStd = 1000.0
)

// filterHealth is the per-epoch validity breakdown of the filter state.
type filterHealth struct {
	timeDefined bool
	timeFresh   bool
	stateFinite bool
}

func (h filterHealth) ok() bool { return h.timeDefined && h.timeFresh && h.stateFinite }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// filterValidity checks the filter against the current epoch: its time must
// be defined, within maxTimeGap of t, and its position state finite.
func (e *Estimator) filterValidity(t float64) filterHealth {
	ft := e.filter.Time()
	state := e.filter.State()
	return filterHealth{
		timeDefined: !math.IsNaN(ft),
		timeFresh:   math.Abs(t-ft) < maxTimeGap,
		stateFinite: finite(state[kalman.IdxPosX]) &&
			finite(state[kalman.IdxPosY]) &&
			finite(state[kalman.IdxPosZ]),
	}
}

// updateFilter advances the filter to t and returns the health evaluated
// at epoch entry; that snapshot, not the post-update state, is what the
// output message reports. An unhealthy filter is reinitialized from the
// position fix when one exists this epoch, otherwise the epoch is skipped.
// A healthy filter observes the measurements, or just predicts when there
// are none.
func (e *Estimator) updateFilter(t float64, fix []float64, measurements []gnss.CorrectedMeasurement) filterHealth {
	health := e.filterValidity(t)
	if !health.ok() {
		switch {
		case !health.timeDefined:
			// Cold start, nothing to report.
		case !health.timeFresh:
			e.logger.Error("filter time gap detected, resetting",
				slog.Float64("gap", math.Abs(t-e.filter.Time())))
		case !health.stateFinite:
			e.logger.Error("filter state is not finite, resetting")
		}
		if len(fix) == 0 {
			return health
		}
		e.logger.Info("initializing filter from position fix", slog.Any("position", fix))
		e.resetFilter(fix)
	}

	if len(measurements) > 0 {
		e.routeObservations(t, measurements)
	} else {
		e.filter.Predict(t)
	}
	return health
}

// resetFilter reinitializes the filter around a position fix, leaving every
// other state at its default initial condition.
func (e *Estimator) resetFilter(fix []float64) {
	x := kalman.DefaultInitialState()
	covs := kalman.DefaultInitialCovDiag()
	for i := 0; i < 3; i++ {
		x[kalman.IdxPosX+i] = fix[i]
		covs[kalman.IdxPosX+i] = resetPosStd * resetPosStd
	}
	e.filter.InitState(x, covs)
}
