package trip

import "github.com/shaunagostinho/tripdiary/internal/geo"

// TransportMode is the inferred means of travel.
type TransportMode string

const (
	ModeWalk  TransportMode = "walk"
	ModeBike  TransportMode = "bike"
	ModeBus   TransportMode = "bus"
	ModeCar   TransportMode = "car"
	ModeTrain TransportMode = "train"
	ModeOther TransportMode = "other"
)

// Modes lists every TransportMode in classifier order.
var Modes = []TransportMode{ModeWalk, ModeBike, ModeBus, ModeCar, ModeTrain, ModeOther}

func (m TransportMode) String() string { return string(m) }

// Speed bands in km/h, upper bound exclusive.
var speedBands = []struct {
	below float64
	mode  TransportMode
}{
	{5, ModeWalk},
	{15, ModeBike},
	{40, ModeBus},
	{80, ModeCar},
}

// AverageSpeedKmh returns path length over elapsed time between the first and
// last point. Zero or negative elapsed time yields 0.
func AverageSpeedKmh(path []PathPoint) float64 {
	if len(path) < 2 {
		return 0
	}
	meters := geo.PathDistanceM(path)
	seconds := float64(path[len(path)-1].Timestamp-path[0].Timestamp) / 1000
	if seconds <= 0 {
		return 0
	}
	return meters / seconds * 3.6
}

// ClassifyMode infers the transport mode from average speed along path.
func ClassifyMode(path []PathPoint) TransportMode {
	if len(path) < 2 {
		return ModeOther
	}
	speed := AverageSpeedKmh(path)
	for _, band := range speedBands {
		if speed < band.below {
			return band.mode
		}
	}
	return ModeTrain
}
