package trip

import "github.com/shaunagostinho/tripdiary/internal/geo"

const t0 = int64(1_700_000_000_000)

// metersPerDegLat converts a north/south offset in meters to degrees.
const metersPerDegLat = geo.EarthRadiusM * 3.141592653589793 / 180

func sampleAt(lat, lng float64, ts int64) PositionSample {
	return PositionSample{Latitude: lat, Longitude: lng, Timestamp: ts, Accuracy: 5}
}

func north(s PositionSample, meters float64, afterMs int64) PositionSample {
	return sampleAt(s.Latitude+meters/metersPerDegLat, s.Longitude, s.Timestamp+afterMs)
}
