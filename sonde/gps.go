package sonde

import "math"

// Weekdays in the compact form the position lines print.
var Weekdays = [7]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"}

// GPSToDate converts a GPS week and time of week (seconds) to a calendar
// date through the Modified Julian Day, ignoring leap seconds.
func GPSToDate(week, tow int) (year, month, day int) {
	gpsDays := week*7 + tow/86400
	mjd := 44244 + gpsDays

	j := mjd + 2468570
	c := 4 * j / 146097
	j = j - (146097*c+3)/4
	y := 4000 * (j + 1) / 1461001
	j = j - 1461*y/4 + 31
	m := 80 * j / 2447
	day = j - 2447*m/80
	j = m / 11
	month = m + 2 - 12*j
	year = 100*(c-49) + y + j
	return year, month, day
}

// WGS84 ellipsoid.
const (
	earthA = 6378137.0
	earthB = 6356752.31424518
)

var (
	earthA2B2 = earthA*earthA - earthB*earthB
	earthE2   = earthA2B2 / (earthA * earthA)
	earthEE2  = earthA2B2 / (earthB * earthB)
)

// ECEFToGeodetic converts Earth-centered Cartesian meters to latitude,
// longitude (degrees) and ellipsoid height (meters).
func ECEFToGeodetic(x, y, z float64) (lat, lon, alt float64) {
	lam := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)
	t := math.Atan2(z*earthA, p*earthB)

	phi := math.Atan2(z+earthEE2*earthB*cube(math.Sin(t)),
		p-earthE2*earthA*cube(math.Cos(t)))

	r := earthA / math.Sqrt(1-earthE2*math.Sin(phi)*math.Sin(phi))
	alt = p/math.Cos(phi) - r

	return phi * 180 / math.Pi, lam * 180 / math.Pi, alt
}

func cube(x float64) float64 { return x * x * x }

// ECEFVelocity rotates an ECEF velocity into the local tangent plane and
// returns horizontal speed, heading (degrees from north) and vertical
// speed.
func ECEFVelocity(vx, vy, vz, latDeg, lonDeg float64) (velH, heading, velV float64) {
	phi := latDeg * math.Pi / 180
	lam := lonDeg * math.Pi / 180

	vN := -vx*math.Sin(phi)*math.Cos(lam) - vy*math.Sin(phi)*math.Sin(lam) + vz*math.Cos(phi)
	vE := -vx*math.Sin(lam) + vy*math.Cos(lam)
	velV = vx*math.Cos(phi)*math.Cos(lam) + vy*math.Cos(phi)*math.Sin(lam) + vz*math.Sin(phi)

	velH = math.Hypot(vN, vE)
	heading = math.Atan2(vE, vN) * 180 / math.Pi
	if heading < 0 {
		heading += 360
	}
	return velH, heading, velV
}
