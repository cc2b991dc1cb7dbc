package trip

import (
	"errors"
	"math"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/geo"
)

// PlaceholderName is used for both trip ends until the user confirms the trip.
const PlaceholderName = "Current Location"

// PositionSample is one GPS reading as delivered by a location source.
type PositionSample struct {
	Latitude  float64 `json:"lat"`       // Decimal degrees
	Longitude float64 `json:"lng"`       // Decimal degrees
	Timestamp int64   `json:"timestamp"` // Unix ms
	Accuracy  float64 `json:"accuracy"`  // Meters, informational
}

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrNegativeAccuracy = errors.New("accuracy cannot be negative")
	ErrZeroTimestamp    = errors.New("timestamp must be set")
)

func (s PositionSample) Lat() float64 { return s.Latitude }
func (s PositionSample) Lng() float64 { return s.Longitude }

// Time returns the sample timestamp in UTC.
func (s PositionSample) Time() time.Time { return time.UnixMilli(s.Timestamp).UTC() }

// Validate checks the sample ranges.
func (s PositionSample) Validate() error {
	if !geo.ValidCoordinates(s.Latitude, 0) {
		return ErrInvalidLatitude
	}
	if !geo.ValidCoordinates(0, s.Longitude) {
		return ErrInvalidLongitude
	}
	if s.Accuracy < 0 || math.IsNaN(s.Accuracy) {
		return ErrNegativeAccuracy
	}
	if s.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	return nil
}

// PathPoint is the trimmed-down sample kept in a trip path.
type PathPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

func (p PathPoint) Lat() float64 { return p.Latitude }
func (p PathPoint) Lng() float64 { return p.Longitude }

// PointOf trims a sample to a path point.
func PointOf(s PositionSample) PathPoint {
	return PathPoint{Latitude: s.Latitude, Longitude: s.Longitude, Timestamp: s.Timestamp}
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a named trip end.
type Place struct {
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
}

func placeAt(s PositionSample) Place {
	return Place{
		Name:        PlaceholderName,
		Coordinates: Coordinates{Lat: s.Latitude, Lng: s.Longitude},
	}
}

// DetectedTrip is the immutable result of a completed trip. The JSON shape is
// the one stored in pending queues, so it must stay stable.
type DetectedTrip struct {
	Origin      Place         `json:"origin"`
	Destination Place         `json:"destination"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Distance    float64       `json:"distance"` // km
	Mode        TransportMode `json:"mode"`
	Path        []PathPoint   `json:"path"`
}

// Duration is EndTime - StartTime.
func (t DetectedTrip) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// DurationMinutes rounds the trip duration to whole minutes.
func (t DetectedTrip) DurationMinutes() int {
	return int(math.Round(float64(t.Duration().Milliseconds()) / 60000))
}

// AverageSpeedKmh is the trip distance over its duration, 0 for instant trips.
func (t DetectedTrip) AverageSpeedKmh() float64 {
	h := t.Duration().Hours()
	if h <= 0 {
		return 0
	}
	return t.Distance / h
}

// PathDistanceKm is the summed path length in kilometers.
func PathDistanceKm(path []PathPoint) float64 {
	return geo.PathDistanceKm(path)
}
