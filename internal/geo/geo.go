package geo

import "math"

// EarthRadiusM is the mean Earth radius used for great-circle distances.
const EarthRadiusM = 6371e3

// Point is anything with a position in decimal degrees.
type Point interface {
	Lat() float64
	Lng() float64
}

// Distance returns the great-circle distance in meters between two lat/lon points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// Between is Distance for two Points.
func Between(a, b Point) float64 {
	return Distance(a.Lat(), a.Lng(), b.Lat(), b.Lng())
}

// PathDistanceM sums the distances between consecutive points. Paths with
// fewer than two points have zero length.
func PathDistanceM[P Point](path []P) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += Between(path[i-1], path[i])
	}
	return total
}

// PathDistanceKm is PathDistanceM in kilometers.
func PathDistanceKm[P Point](path []P) float64 {
	return PathDistanceM(path) / 1000
}

// ValidCoordinates reports whether lat/lng are finite and within range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
