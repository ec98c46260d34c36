// Package estimator is the orchestration core of the daemon: it consumes
// receiver messages, maintains the ephemeris store and its persistent
// cache, schedules background orbit fetches, keeps the Kalman filter
// healthy, and assembles the outgoing estimate messages.
package estimator

import (
	"fmt"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/gnss"
)

// ReceiverMessage is the inbound envelope. Exactly one payload field is set
// per message; messages with no recognized payload produce no output.
type ReceiverMessage struct {
	MeasurementReport *MeasurementReport   `json:"measurementReport,omitempty"`
	Ephemeris         *ephemeris.Ephemeris `json:"ephemeris,omitempty"`
}

// MeasurementReport is one receiver epoch: the reported GPS week and time
// of week plus the per-satellite raw observations. A week of zero means the
// receiver has no time solution yet.
type MeasurementReport struct {
	GPSWeek      int              `json:"gpsWeek"`
	RcvTow       float64          `json:"rcvTow"`
	Measurements []RawObservation `json:"measurements"`
}

// RawObservation is one satellite's raw tracking output. GlonassFrequency
// is the FDMA slot (-7..+6), already normalized by the receiver driver.
type RawObservation struct {
	ConstellationID    gnss.Constellation `json:"constellationId"`
	SvID               uint8              `json:"svId"`
	GlonassFrequency   int                `json:"glonassFrequency"`
	Pseudorange        float64            `json:"pseudorange"`
	PseudorangeStd     float64            `json:"pseudorangeStd"`
	PseudorangeRate    float64            `json:"pseudorangeRate"`
	PseudorangeRateStd float64            `json:"pseudorangeRateStd"`
}

// rawMeasurements converts the report into domain measurements, stamping
// every observation with the report receive time.
func (r *MeasurementReport) rawMeasurements() []gnss.RawMeasurement {
	recv := gnss.NewTime(r.GPSWeek, r.RcvTow)
	out := make([]gnss.RawMeasurement, 0, len(r.Measurements))
	for _, o := range r.Measurements {
		out = append(out, gnss.RawMeasurement{
			Satellite:          gnss.SatelliteID{Constellation: o.ConstellationID, PRN: o.SvID},
			GlonassSlot:        o.GlonassFrequency,
			RecvTime:           recv,
			Pseudorange:        o.Pseudorange,
			PseudorangeStd:     o.PseudorangeStd,
			PseudorangeRate:    o.PseudorangeRate,
			PseudorangeRateStd: o.PseudorangeRateStd,
		})
	}
	return out
}

// Estimate is a vector quantity on the output message: value with per-axis
// standard deviations and a validity flag. Value and Std stay empty when
// the quantity has never been produced.
type Estimate struct {
	Value []float64 `json:"value"`
	Std   []float64 `json:"std"`
	Valid bool      `json:"valid"`
}

// Output is the outbound gnssMeasurements message, emitted once per
// measurement report.
type Output struct {
	GPSWeek       int     `json:"gpsWeek"`
	GPSTimeOfWeek float64 `json:"gpsTimeOfWeek"`

	PositionECEF    Estimate `json:"positionECEF"`
	VelocityECEF    Estimate `json:"velocityECEF"`
	PositionFixECEF Estimate `json:"positionFixECEF"`

	ReceiverMonoTime int64 `json:"receiverMonoTime"`

	CorrectedMeasurements []CorrectedMeasurementMsg `json:"correctedMeasurements"`
}

// CorrectedMeasurementMsg is one fully corrected satellite observation on
// the output message.
type CorrectedMeasurementMsg struct {
	ConstellationID    gnss.Constellation `json:"constellationId"`
	SvID               uint8              `json:"svId"`
	GlonassFrequency   int                `json:"glonassFrequency"`
	Pseudorange        float64            `json:"pseudorange"`
	PseudorangeStd     float64            `json:"pseudorangeStd"`
	PseudorangeRate    float64            `json:"pseudorangeRate"`
	PseudorangeRateStd float64            `json:"pseudorangeRateStd"`
	SatPos             [3]float64         `json:"satPos"`
	SatVel             [3]float64         `json:"satVel"`
	EphemerisSource    EphemerisSourceMsg `json:"ephemerisSource"`
}

// SourceType is the wire-level ephemeris source discriminator.
type SourceType uint8

const (
	SourceNav                  SourceType = 0
	SourceNASAUltraRapid       SourceType = 1
	SourceGlonassIACUltraRapid SourceType = 2
)

// EphemerisSourceMsg describes which ephemeris produced a corrected
// measurement. Broadcast sources carry -1 for both time fields.
type EphemerisSourceMsg struct {
	Type          SourceType `json:"type"`
	GPSWeek       int        `json:"gpsWeek"`
	GPSTimeOfWeek int        `json:"gpsTimeOfWeek"`
}

// sourceDescriptor maps an ephemeris reference to its wire descriptor. A
// precise ephemeris from a product family this build does not know is a
// contract violation; the error propagates out of message handling and
// takes the process down rather than mislabel data.
func sourceDescriptor(ref gnss.EphemerisRef) (EphemerisSourceMsg, error) {
	if !ref.Precise {
		return EphemerisSourceMsg{Type: SourceNav, GPSWeek: -1, GPSTimeOfWeek: -1}, nil
	}
	var typ SourceType
	switch ref.FilePrefix {
	case "igu":
		typ = SourceNASAUltraRapid
	case "Sta":
		typ = SourceGlonassIACUltraRapid
	default:
		return EphemerisSourceMsg{}, fmt.Errorf("unexpected ephemeris file source %q", ref.FilePrefix)
	}
	return EphemerisSourceMsg{
		Type:          typ,
		GPSWeek:       ref.FileEpoch.Week,
		GPSTimeOfWeek: int(ref.FileEpoch.TOW),
	}, nil
}

// newCorrectedMeasurementMsg renders one corrected measurement for output.
func newCorrectedMeasurementMsg(c gnss.CorrectedMeasurement) (CorrectedMeasurementMsg, error) {
	source, err := sourceDescriptor(c.Ephemeris)
	if err != nil {
		return CorrectedMeasurementMsg{}, err
	}
	slot := 0
	if c.Satellite.Constellation == gnss.ConstellationGLONASS {
		slot = c.GlonassSlot
	}
	return CorrectedMeasurementMsg{
		ConstellationID:    c.Satellite.Constellation,
		SvID:               c.Satellite.PRN,
		GlonassFrequency:   slot,
		Pseudorange:        c.CorrectedPseudorange,
		PseudorangeStd:     c.PseudorangeStd,
		PseudorangeRate:    c.CorrectedPseudorangeRate,
		PseudorangeRateStd: c.PseudorangeRateStd,
		SatPos:             c.SatPosFinal,
		SatVel:             c.SatVel,
		EphemerisSource:    source,
	}, nil
}
