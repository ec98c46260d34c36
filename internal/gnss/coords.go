package gnss

import "math"

// Physical and WGS84 constants shared across the positioning code.
const (
	SpeedOfLight      = 299792458.0     // m/s
	EarthRotationRate = 7.2921151467e-5 // rad/s, WGS84 earth angular velocity

	wgs84A  = 6378137.0           // semi-major axis, m
	wgs84F  = 1.0 / 298.257223563 // flattening
	wgs84E2 = wgs84F * (2.0 - wgs84F)
)

// LLH is a geodetic position: latitude and longitude in radians, height in
// meters above the WGS84 ellipsoid.
type LLH struct {
	Lat    float64
	Lon    float64
	Height float64
}

// ECEF2LLH converts an ECEF position to geodetic coordinates using the
// iterative method. Positions near the geocenter resolve to latitude from
// the z sign, matching the usual receiver library behavior.
func ECEF2LLH(r [3]float64) LLH {
	e2 := wgs84E2
	r2 := r[0]*r[0] + r[1]*r[1]
	z := r[2]
	zk := 0.0
	v := wgs84A

	for math.Abs(z-zk) >= 1e-4 {
		zk = z
		sinp := z / math.Sqrt(r2+z*z)
		v = wgs84A / math.Sqrt(1.0-e2*sinp*sinp)
		z = r[2] + v*e2*sinp
	}

	var lat float64
	if r2 > 1e-12 {
		lat = math.Atan(z / math.Sqrt(r2))
	} else if r[2] > 0 {
		lat = math.Pi / 2
	} else {
		lat = -math.Pi / 2
	}
	var lon float64
	if r2 > 1e-12 {
		lon = math.Atan2(r[1], r[0])
	}
	return LLH{Lat: lat, Lon: lon, Height: math.Sqrt(r2+z*z) - v}
}

// LLH2ECEF converts geodetic coordinates to an ECEF position.
func LLH2ECEF(p LLH) [3]float64 {
	sinp, cosp := math.Sincos(p.Lat)
	sinl, cosl := math.Sincos(p.Lon)
	e2 := wgs84E2
	v := wgs84A / math.Sqrt(1.0-e2*sinp*sinp)

	return [3]float64{
		(v + p.Height) * cosp * cosl,
		(v + p.Height) * cosp * sinl,
		(v*(1.0-e2) + p.Height) * sinp,
	}
}

// ECEF2ENU rotates an ECEF vector into the local east-north-up frame at the
// given geodetic origin.
func ECEF2ENU(origin LLH, v [3]float64) [3]float64 {
	sinp, cosp := math.Sincos(origin.Lat)
	sinl, cosl := math.Sincos(origin.Lon)

	return [3]float64{
		-sinl*v[0] + cosl*v[1],
		-sinp*cosl*v[0] - sinp*sinl*v[1] + cosp*v[2],
		cosp*cosl*v[0] + cosp*sinl*v[1] + sinp*v[2],
	}
}

// AzimuthElevation returns the azimuth (radians clockwise from north, in
// [0, 2pi)) and elevation (radians above the horizon) of a satellite as seen
// from a receiver, both in ECEF.
func AzimuthElevation(receiver, satellite [3]float64) (az, el float64) {
	origin := ECEF2LLH(receiver)
	d := [3]float64{
		satellite[0] - receiver[0],
		satellite[1] - receiver[1],
		satellite[2] - receiver[2],
	}
	enu := ECEF2ENU(origin, d)
	rng := math.Sqrt(enu[0]*enu[0] + enu[1]*enu[1] + enu[2]*enu[2])
	if rng < 1e-9 {
		return 0, math.Pi / 2
	}
	az = math.Atan2(enu[0], enu[1])
	if az < 0 {
		az += 2 * math.Pi
	}
	el = math.Asin(enu[2] / rng)
	return az, el
}

// RotateZ rotates an ECEF vector about the z axis by theta radians. Used for
// the Sagnac compensation of satellite positions.
func RotateZ(v [3]float64, theta float64) [3]float64 {
	sint, cost := math.Sincos(theta)
	return [3]float64{
		cost*v[0] + sint*v[1],
		-sint*v[0] + cost*v[1],
		v[2],
	}
}

// Norm returns the Euclidean length of a 3-vector.
func Norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Sub3 returns a - b.
func Sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}
