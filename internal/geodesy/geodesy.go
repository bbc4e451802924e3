// Package geodesy solves the direct and inverse geodesic problems on the
// WGS84 ellipsoid for dead reckoning and trail measurements.
package geodesy

import (
	"math"

	"github.com/StefanSchroeder/Golang-Ellipsoid/ellipsoid"
)

var wgs84 = ellipsoid.Init("WGS84", ellipsoid.Degrees, ellipsoid.Meter,
	ellipsoid.LongitudeIsSymmetric, ellipsoid.BearingNotSymmetric)

// DestinationPoint returns the point reached by travelling distanceMeters
// from (lat, lon) along the initial bearing bearingDeg. A zero, negative or
// NaN distance returns the start point unchanged.
func DestinationPoint(lat, lon, bearingDeg, distanceMeters float64) (float64, float64) {
	if !(distanceMeters > 0) || math.IsInf(distanceMeters, 0) {
		return lat, lon
	}
	bearing := math.Mod(bearingDeg, 360)
	if bearing < 0 {
		bearing += 360
	}
	lat2, lon2 := wgs84.At(lat, lon, distanceMeters, bearing)
	return lat2, normalizeLongitude(lon2)
}

// Distance returns the ellipsoidal distance in metres and the initial
// bearing in degrees [0, 360) from the first point to the second.
func Distance(lat1, lon1, lat2, lon2 float64) (meters, bearing float64) {
	if lat1 == lat2 && lon1 == lon2 {
		return 0, 0
	}
	return wgs84.To(lat1, lon1, lat2, lon2)
}

func normalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
