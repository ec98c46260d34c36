package gnss

import (
	"fmt"
	"math"
	"time"
)

const (
	// SecondsPerWeek is the length of a GPS week in seconds.
	SecondsPerWeek = 604800.0

	// SecondsPerDay is the length of a day in seconds.
	SecondsPerDay = 86400.0

	// leapSeconds is the current GPST-UTC offset. GPS time does not
	// observe leap seconds; UTC has accumulated 18 since the GPS epoch.
	leapSeconds = 18
)

// gpsEpoch is 1980-01-06T00:00:00Z, the zero point of GPS time.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// Time is an instant on the continuous GPS time scale, expressed as a week
// number since the GPS epoch and the number of seconds elapsed within that
// week. It is the time representation used on every internal interface;
// civil time appears only at the edges.
type Time struct {
	Week int     `json:"week"`
	TOW  float64 `json:"tow"`
}

// NewTime returns a normalized Time for the given week and time of week.
// Out-of-range TOW values roll into adjacent weeks.
func NewTime(week int, tow float64) Time {
	return Time{Week: week, TOW: tow}.normalize()
}

// TimeFromUTC converts a civil timestamp to GPS time, applying the fixed
// leap second offset.
func TimeFromUTC(t time.Time) Time {
	d := t.UTC().Sub(gpsEpoch).Seconds() + leapSeconds
	week := math.Floor(d / SecondsPerWeek)
	return Time{Week: int(week), TOW: d - week*SecondsPerWeek}
}

// UTC converts back to a civil timestamp.
func (t Time) UTC() time.Time {
	d := float64(t.Week)*SecondsPerWeek + t.TOW - leapSeconds
	return gpsEpoch.Add(time.Duration(d * float64(time.Second)))
}

func (t Time) normalize() Time {
	for t.TOW >= SecondsPerWeek {
		t.TOW -= SecondsPerWeek
		t.Week++
	}
	for t.TOW < 0 {
		t.TOW += SecondsPerWeek
		t.Week--
	}
	return t
}

// Add returns the instant sec seconds after t. Negative values step
// backwards; week boundaries are handled.
func (t Time) Add(sec float64) Time {
	return Time{Week: t.Week, TOW: t.TOW + sec}.normalize()
}

// Sub returns t - other in seconds.
func (t Time) Sub(other Time) float64 {
	return float64(t.Week-other.Week)*SecondsPerWeek + t.TOW - other.TOW
}

// Before reports whether t is strictly earlier than other.
func (t Time) Before(other Time) bool {
	return t.Sub(other) < 0
}

// After reports whether t is strictly later than other.
func (t Time) After(other Time) bool {
	return t.Sub(other) > 0
}

// IsZero reports whether t is the zero value, used to mark "no time".
func (t Time) IsZero() bool {
	return t.Week == 0 && t.TOW == 0
}

// DayOfWeek returns the day index within the GPS week (0 = Sunday), used to
// address daily orbit product files.
func (t Time) DayOfWeek() int {
	return int(t.TOW / SecondsPerDay)
}

// String renders the instant as week:seconds, e.g. "2260:345601.0".
func (t Time) String() string {
	return fmt.Sprintf("%d:%.1f", t.Week, t.TOW)
}
