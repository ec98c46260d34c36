package gnss

import "testing"

func TestSatelliteIDString(t *testing.T) {
	tests := []struct {
		id   SatelliteID
		want string
	}{
		{SatelliteID{ConstellationGPS, 7}, "G07"},
		{SatelliteID{ConstellationGLONASS, 12}, "R12"},
		{SatelliteID{ConstellationGalileo, 1}, "E01"},
		{SatelliteID{ConstellationBeiDou, 30}, "C30"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.id.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
			parsed, err := ParseSatelliteID(tc.want)
			if err != nil {
				t.Fatalf("ParseSatelliteID(%q): %v", tc.want, err)
			}
			if parsed != tc.id {
				t.Errorf("ParseSatelliteID(%q) = %v, want %v", tc.want, parsed, tc.id)
			}
		})
	}
}

func TestParseSatelliteIDMalformed(t *testing.T) {
	for _, s := range []string{"", "G7", "X07", "G0x", "G00", "G071"} {
		if _, err := ParseSatelliteID(s); err == nil {
			t.Errorf("ParseSatelliteID(%q) succeeded, want error", s)
		}
	}
}

func TestParseConstellation(t *testing.T) {
	c, err := ParseConstellation("GLONASS")
	if err != nil {
		t.Fatal(err)
	}
	if c != ConstellationGLONASS {
		t.Errorf("ParseConstellation = %v, want GLONASS", c)
	}
	if _, err := ParseConstellation("LORAN"); err == nil {
		t.Error("ParseConstellation accepted unknown system")
	}
}

func TestSatelliteIDTextMarshal(t *testing.T) {
	id := SatelliteID{ConstellationGLONASS, 3}
	b, err := id.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var back SatelliteID
	if err := back.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if back != id {
		t.Errorf("round trip = %v, want %v", back, id)
	}
}
