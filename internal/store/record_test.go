package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

func TestRecordFromTrip(t *testing.T) {
	rec := RecordFromTrip(sampleTrip(trip.ModeBike))

	assert.Equal(t, trip.PlaceholderName, rec.OriginName)
	assert.Equal(t, 43.6532, rec.OriginLat)
	assert.Equal(t, -79.3957, rec.DestinationLng)
	assert.Equal(t, "2025-03-14T08:00:00.000Z", rec.StartTime)
	assert.Equal(t, "2025-03-14T08:17:40.000Z", rec.EndTime)
	assert.Equal(t, 18, rec.Duration)
	assert.Equal(t, 1.42, rec.Distance)
	assert.Equal(t, trip.ModeBike, rec.Mode)
	assert.Equal(t, trip.PurposeOther, rec.Purpose)
	assert.Equal(t, trip.CompanionAlone, rec.Companion)
	assert.True(t, rec.IsAutoDetected)
	assert.False(t, rec.IsConfirmed)
}
