package estimator

import (
	"github.com/meridian-av/gnssd/internal/gnss"
	"github.com/meridian-av/gnssd/internal/kalman"
)

// routeObservations feeds corrected measurements to the filter in a fixed
// batch order: GPS pseudoranges, GLONASS pseudoranges, GPS rates, GLONASS
// rates. Each measurement backs both the pseudorange and the rate batch of
// its constellation; anything that is not GLONASS rides the GPS batches.
// Empty batches are never submitted.
func (e *Estimator) routeObservations(t float64, measurements []gnss.CorrectedMeasurement) {
	var prGPS, prGLO, rateGPS, rateGLO []kalman.Observation
	for _, m := range measurements {
		pr := kalman.Observation{
			Value:  m.CorrectedPseudorange,
			Std:    m.PseudorangeStd,
			SatPos: m.SatPosFinal,
		}
		rate := kalman.Observation{
			Value:  m.CorrectedPseudorangeRate,
			Std:    m.PseudorangeRateStd,
			SatPos: m.SatPosFinal,
			SatVel: m.SatVel,
		}
		if m.Satellite.Constellation == gnss.ConstellationGLONASS {
			pr.GlonassSlot = float64(m.GlonassSlot)
			prGLO = append(prGLO, pr)
			rateGLO = append(rateGLO, rate)
		} else {
			prGPS = append(prGPS, pr)
			rateGPS = append(rateGPS, rate)
		}
	}

	batches := []struct {
		kind kalman.ObservationKind
		obs  []kalman.Observation
	}{
		{kalman.KindPseudorangeGPS, prGPS},
		{kalman.KindPseudorangeGLONASS, prGLO},
		{kalman.KindPseudorangeRateGPS, rateGPS},
		{kalman.KindPseudorangeRateGLONASS, rateGLO},
	}
	for _, b := range batches {
		if len(b.obs) > 0 {
			e.filter.PredictAndObserve(t, b.kind, b.obs)
		}
	}
}
