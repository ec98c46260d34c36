package gnss

// RawMeasurement is a single satellite's tracking output as reported by the
// receiver: code pseudorange and pseudorange rate with their standard
// deviations, stamped with the receive time.
type RawMeasurement struct {
	Satellite   SatelliteID
	GlonassSlot int // GLONASS FDMA frequency slot, -7..+6; 0 otherwise

	RecvTime Time

	Pseudorange        float64 // m
	PseudorangeStd     float64 // m
	PseudorangeRate    float64 // m/s
	PseudorangeRateStd float64 // m/s
}

// EphemerisRef records which ephemeris a measurement was resolved against.
// Broadcast ephemerides carry no product metadata; precise ones carry the
// orbit product epoch and the three-character product file prefix that
// output assembly maps to a source descriptor.
type EphemerisRef struct {
	Precise    bool
	FileEpoch  Time
	FilePrefix string
}

// ProcessedMeasurement is a raw measurement with the satellite state
// resolved from ephemeris at the time of transmission.
type ProcessedMeasurement struct {
	RawMeasurement

	SatPos        [3]float64 // ECEF at emission, m
	SatVel        [3]float64 // ECEF, m/s
	SatClockErr   float64    // s, positive means satellite clock is ahead
	SatClockDrift float64    // s/s

	Ephemeris EphemerisRef
}

// CorrectedMeasurement is a processed measurement with receiver-position
// dependent corrections applied: satellite clock and troposphere folded into
// the pseudorange, satellite clock drift into the rate, and the satellite
// position rotated for signal transit (Sagnac). Instances live only within
// the epoch that produced them.
type CorrectedMeasurement struct {
	ProcessedMeasurement

	CorrectedPseudorange     float64    // m
	CorrectedPseudorangeRate float64    // m/s
	SatPosFinal              [3]float64 // ECEF in the receive-time frame, m
}
