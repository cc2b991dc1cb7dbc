package store

import (
	"time"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

func sampleTrip(mode trip.TransportMode) trip.DetectedTrip {
	start := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	return trip.DetectedTrip{
		Origin:      trip.Place{Name: trip.PlaceholderName, Coordinates: trip.Coordinates{Lat: 43.6532, Lng: -79.3832}},
		Destination: trip.Place{Name: trip.PlaceholderName, Coordinates: trip.Coordinates{Lat: 43.6629, Lng: -79.3957}},
		StartTime:   start,
		EndTime:     start.Add(17*time.Minute + 40*time.Second),
		Distance:    1.42,
		Mode:        mode,
		Path: []trip.PathPoint{
			{Latitude: 43.6532, Longitude: -79.3832, Timestamp: start.UnixMilli()},
			{Latitude: 43.6629, Longitude: -79.3957, Timestamp: start.Add(11 * time.Minute).UnixMilli()},
		},
	}
}
