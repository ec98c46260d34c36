package gnss

import (
	"encoding/json"
	"fmt"
)

// Constellation identifies a satellite navigation system. The numeric values
// are part of the output wire format and must not be reordered.
type Constellation uint8

const (
	ConstellationGPS Constellation = iota
	ConstellationGLONASS
	ConstellationGalileo
	ConstellationBeiDou
	ConstellationQZSS
	ConstellationSBAS
)

var constellationNames = map[Constellation]string{
	ConstellationGPS:     "GPS",
	ConstellationGLONASS: "GLONASS",
	ConstellationGalileo: "GALILEO",
	ConstellationBeiDou:  "BEIDOU",
	ConstellationQZSS:    "QZSS",
	ConstellationSBAS:    "SBAS",
}

var constellationLetters = map[Constellation]byte{
	ConstellationGPS:     'G',
	ConstellationGLONASS: 'R',
	ConstellationGalileo: 'E',
	ConstellationBeiDou:  'C',
	ConstellationQZSS:    'J',
	ConstellationSBAS:    'S',
}

// ParseConstellation maps a system name to its Constellation. Names follow
// the configuration file convention (case-sensitive upper case).
func ParseConstellation(name string) (Constellation, error) {
	for c, n := range constellationNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown constellation %q", name)
}

// String returns the system name, or a numeric form for unknown values.
func (c Constellation) String() string {
	if n, ok := constellationNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CONSTELLATION(%d)", uint8(c))
}

// SatelliteID identifies a single space vehicle by constellation and PRN
// (1-based within the constellation).
type SatelliteID struct {
	Constellation Constellation
	PRN           uint8
}

// String renders the RINEX-style identifier, e.g. "G07" or "R12".
func (s SatelliteID) String() string {
	letter, ok := constellationLetters[s.Constellation]
	if !ok {
		letter = '?'
	}
	return fmt.Sprintf("%c%02d", letter, s.PRN)
}

// ParseSatelliteID parses a RINEX-style identifier such as "G07".
func ParseSatelliteID(s string) (SatelliteID, error) {
	if len(s) != 3 {
		return SatelliteID{}, fmt.Errorf("malformed satellite id %q", s)
	}
	var c Constellation
	found := false
	for k, v := range constellationLetters {
		if v == s[0] {
			c, found = k, true
			break
		}
	}
	if !found {
		return SatelliteID{}, fmt.Errorf("unknown constellation letter in %q", s)
	}
	var prn uint8
	if _, err := fmt.Sscanf(s[1:], "%d", &prn); err != nil || prn == 0 {
		return SatelliteID{}, fmt.Errorf("malformed satellite id %q", s)
	}
	return SatelliteID{Constellation: c, PRN: prn}, nil
}

// MarshalText implements encoding.TextMarshaler so SatelliteID can key JSON
// maps in the cache snapshot.
func (s SatelliteID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SatelliteID) UnmarshalText(text []byte) error {
	id, err := ParseSatelliteID(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}

var _ json.Marshaler = Constellation(0)

// MarshalJSON emits the numeric wire value.
func (c Constellation) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(c))
}

// UnmarshalJSON accepts the numeric wire value.
func (c *Constellation) UnmarshalJSON(data []byte) error {
	var v uint8
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Constellation(v)
	return nil
}
