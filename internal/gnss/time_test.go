package gnss

import (
	"math"
	"testing"
	"time"
)

func TestTimeNormalize(t *testing.T) {
	tests := []struct {
		name     string
		week     int
		tow      float64
		wantWeek int
		wantTOW  float64
	}{
		{"in range", 2260, 345600, 2260, 345600},
		{"tow overflow", 2259, SecondsPerWeek + 10, 2260, 10},
		{"tow underflow", 2260, -10, 2259, SecondsPerWeek - 10},
		{"double overflow", 2258, 2*SecondsPerWeek + 1, 2260, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewTime(tc.week, tc.tow)
			if got.Week != tc.wantWeek || math.Abs(got.TOW-tc.wantTOW) > 1e-9 {
				t.Errorf("NewTime(%d, %v) = %v, want %d:%v", tc.week, tc.tow, got, tc.wantWeek, tc.wantTOW)
			}
		})
	}
}

func TestTimeAddSub(t *testing.T) {
	base := NewTime(2260, SecondsPerWeek-5)

	later := base.Add(10)
	if later.Week != 2261 || math.Abs(later.TOW-5) > 1e-9 {
		t.Fatalf("Add across week boundary = %v, want 2261:5", later)
	}
	if d := later.Sub(base); math.Abs(d-10) > 1e-9 {
		t.Errorf("Sub = %v, want 10", d)
	}
	if !base.Before(later) || later.Before(base) {
		t.Error("Before ordering wrong")
	}
	if !later.After(base) {
		t.Error("After ordering wrong")
	}

	back := later.Add(-10)
	if back.Week != base.Week || math.Abs(back.TOW-base.TOW) > 1e-9 {
		t.Errorf("Add(-10) = %v, want %v", back, base)
	}
}

func TestTimeUTCRoundTrip(t *testing.T) {
	// The GPS epoch itself lands at week 0 with only the leap offset.
	epoch := TimeFromUTC(time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC))
	if epoch.Week != 0 || math.Abs(epoch.TOW-leapSeconds) > 1e-6 {
		t.Fatalf("GPS epoch = %v, want 0:%d", epoch, leapSeconds)
	}

	orig := time.Date(2026, time.August, 25, 12, 30, 15, 0, time.UTC)
	got := TimeFromUTC(orig).UTC()
	if d := got.Sub(orig); d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("UTC round trip drifted by %v", d)
	}
}

func TestTimeDayOfWeek(t *testing.T) {
	if d := NewTime(2260, 0).DayOfWeek(); d != 0 {
		t.Errorf("DayOfWeek(tow=0) = %d, want 0", d)
	}
	if d := NewTime(2260, 3*SecondsPerDay+5).DayOfWeek(); d != 3 {
		t.Errorf("DayOfWeek = %d, want 3", d)
	}
}

func TestTimeIsZero(t *testing.T) {
	if !(Time{}).IsZero() {
		t.Error("zero value not reported as zero")
	}
	if NewTime(2260, 1).IsZero() {
		t.Error("non-zero value reported as zero")
	}
}
