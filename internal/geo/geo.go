// Package geo implements the great-circle helpers used to advance simulated
// positions. Distances are kilometres, bearings are degrees clockwise from
// north.
package geo

import (
	"math"

	"locsim/internal/types"
)

const EarthRadiusKm = 6371.0

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceKm returns the haversine distance between two coordinates.
func DistanceKm(a, b types.Coordinate) float64 {
	phi1 := radians(a.Latitude)
	phi2 := radians(b.Latitude)
	deltaPhi := radians(b.Latitude - a.Latitude)
	deltaLambda := radians(b.Longitude - a.Longitude)

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

func DistanceMeters(a, b types.Coordinate) float64 {
	return DistanceKm(a, b) * 1000
}

// Bearing returns the initial bearing from a to b in [0, 360).
func Bearing(a, b types.Coordinate) float64 {
	phi1 := radians(a.Latitude)
	phi2 := radians(b.Latitude)
	deltaLambda := radians(b.Longitude - a.Longitude)

	y := math.Sin(deltaLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)
	return math.Mod(degrees(math.Atan2(y, x))+360, 360)
}

// Destination moves from origin along bearing for distanceKm.
func Destination(origin types.Coordinate, bearingDeg, distanceKm float64) types.Coordinate {
	phi1 := radians(origin.Latitude)
	lambda1 := radians(origin.Longitude)
	theta := radians(bearingDeg)
	delta := distanceKm / EarthRadiusKm

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)
	lon := math.Mod(degrees(lambda2)+540, 360) - 180
	return types.Coordinate{Latitude: degrees(phi2), Longitude: lon}
}

// StepKm is the distance covered at speedKmh over the given number of seconds.
func StepKm(speedKmh, seconds float64) float64 {
	if speedKmh <= 0 || seconds <= 0 {
		return 0
	}
	return speedKmh * seconds / 3600
}

// PathLengthKm sums the leg lengths of a polyline.
func PathLengthKm(path []types.Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += DistanceKm(path[i-1], path[i])
	}
	return total
}
