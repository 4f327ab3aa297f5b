package geo

import (
	"errors"
	"math"
)

// earthRadiusM is the mean Earth radius used by the spherical approximation.
const earthRadiusM = 6371000.0

// ErrMissingCoordinate distinguishes "no location supplied" from "too far".
// Callers use it to tell the user to enable GPS rather than move closer.
var ErrMissingCoordinate = errors.New("coordinate missing")

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Verdict is the outcome of a proximity check.
type Verdict struct {
	Valid     bool `json:"valid"`
	DistanceM int  `json:"distance_m"`
}

// Distance returns the great-circle distance between a and b in meters,
// computed with the Haversine formula.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Validate checks whether candidate is within toleranceM meters of reference.
// A nil coordinate on either side returns ErrMissingCoordinate; the boundary
// itself (distance == tolerance) is valid.
func Validate(reference, candidate *Coordinate, toleranceM int) (Verdict, error) {
	if reference == nil || candidate == nil {
		return Verdict{}, ErrMissingCoordinate
	}
	d := int(math.Round(Distance(*reference, *candidate)))
	return Verdict{Valid: d <= toleranceM, DistanceM: d}, nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
