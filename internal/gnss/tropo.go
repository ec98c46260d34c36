package gnss

import "math"

// defaultHumidity is the relative humidity assumed by the standard
// atmosphere when no meteorological data is available.
const defaultHumidity = 0.7

// TropoDelay returns the Saastamoinen troposphere delay in meters for a
// signal received at the given geodetic position and elevation angle. The
// standard atmosphere supplies pressure and temperature. Out-of-range
// heights and non-positive elevations return zero delay.
func TropoDelay(pos LLH, elevation float64) float64 {
	if pos.Height < -100 || pos.Height > 10000 || elevation <= 0 {
		return 0
	}

	hgt := math.Max(0, pos.Height)
	pres := 1013.25 * math.Pow(1.0-2.2557e-5*hgt, 5.2568)
	temp := 15.0 - 6.5e-3*hgt + 273.16
	e := 6.108 * defaultHumidity * math.Exp((17.15*temp-4684.0)/(temp-38.45))

	z := math.Pi/2.0 - elevation
	trph := 0.0022768 * pres / (1.0 - 0.00266*math.Cos(2.0*pos.Lat) - 0.00028*hgt/1e3) / math.Cos(z)
	trpw := 0.002277 * (1255.0/temp + 0.05) * e / math.Cos(z)
	return trph + trpw
}
