package store

import (
	"time"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// isoMillis is the timestamp layout of the remote table's text columns.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// TripRecord is one row of the remote trips table.
type TripRecord struct {
	OriginName      string             `json:"origin_name"`
	OriginLat       float64            `json:"origin_lat"`
	OriginLng       float64            `json:"origin_lng"`
	DestinationName string             `json:"destination_name"`
	DestinationLat  float64            `json:"destination_lat"`
	DestinationLng  float64            `json:"destination_lng"`
	StartTime       string             `json:"start_time"`
	EndTime         string             `json:"end_time"`
	Distance        float64            `json:"distance"` // km
	Duration        int                `json:"duration"` // minutes
	Mode            trip.TransportMode `json:"mode"`
	Purpose         trip.Purpose       `json:"purpose"`
	Companion       trip.Companion     `json:"companion"`
	IsAutoDetected  bool               `json:"is_auto_detected"`
	IsConfirmed     bool               `json:"is_confirmed"`
}

// RecordFromTrip flattens a detected trip into an unconfirmed, auto-detected row.
func RecordFromTrip(t trip.DetectedTrip) TripRecord {
	return TripRecord{
		OriginName:      t.Origin.Name,
		OriginLat:       t.Origin.Coordinates.Lat,
		OriginLng:       t.Origin.Coordinates.Lng,
		DestinationName: t.Destination.Name,
		DestinationLat:  t.Destination.Coordinates.Lat,
		DestinationLng:  t.Destination.Coordinates.Lng,
		StartTime:       formatTime(t.StartTime),
		EndTime:         formatTime(t.EndTime),
		Distance:        t.Distance,
		Duration:        t.DurationMinutes(),
		Mode:            t.Mode,
		Purpose:         trip.DefaultPurpose,
		Companion:       trip.DefaultCompanion,
		IsAutoDetected:  true,
		IsConfirmed:     false,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
