package ephemeris

import (
	"github.com/meridian-av/gnssd/internal/gnss"
)

// ProcessMeasurements resolves satellite state for raw measurements from
// the store. Satellites without a usable ephemeris at the time of
// transmission are dropped; the caller decides whether the loss is worth
// logging.
func ProcessMeasurements(store *Store, raws []gnss.RawMeasurement) []gnss.ProcessedMeasurement {
	out := make([]gnss.ProcessedMeasurement, 0, len(raws))
	for _, raw := range raws {
		if !store.Accepts(raw.Satellite) {
			continue
		}
		txTime := raw.RecvTime.Add(-raw.Pseudorange / gnss.SpeedOfLight)
		e := store.Select(raw.Satellite, txTime)
		if e == nil {
			continue
		}
		pos, vel, clockErr, clockDrift, err := e.SatelliteState(txTime)
		if err != nil {
			continue
		}
		out = append(out, gnss.ProcessedMeasurement{
			RawMeasurement: raw,
			SatPos:         pos,
			SatVel:         vel,
			SatClockErr:    clockErr,
			SatClockDrift:  clockDrift,
			Ephemeris:      e.Ref(),
		})
	}
	return out
}

// CorrectMeasurements applies receiver-position dependent corrections to
// processed measurements: satellite clock error and troposphere delay on
// the pseudorange, clock drift on the rate, and Sagnac rotation of the
// satellite position into the receive-time frame.
func CorrectMeasurements(estPos [3]float64, measurements []gnss.ProcessedMeasurement) []gnss.CorrectedMeasurement {
	origin := gnss.ECEF2LLH(estPos)
	out := make([]gnss.CorrectedMeasurement, 0, len(measurements))
	for _, m := range measurements {
		_, el := gnss.AzimuthElevation(estPos, m.SatPos)
		tropo := gnss.TropoDelay(origin, el)

		rng := gnss.Norm(gnss.Sub3(m.SatPos, estPos))
		theta := gnss.EarthRotationRate * rng / gnss.SpeedOfLight

		out = append(out, gnss.CorrectedMeasurement{
			ProcessedMeasurement:     m,
			CorrectedPseudorange:     m.Pseudorange + gnss.SpeedOfLight*m.SatClockErr - tropo,
			CorrectedPseudorangeRate: m.PseudorangeRate + gnss.SpeedOfLight*m.SatClockDrift,
			SatPosFinal:              gnss.RotateZ(m.SatPos, theta),
		})
	}
	return out
}
