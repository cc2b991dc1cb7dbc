package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pt struct{ lat, lng float64 }

func (p pt) Lat() float64 { return p.lat }
func (p pt) Lng() float64 { return p.lng }

func TestDistanceKnownCities(t *testing.T) {
	// Jakarta to Bandung is roughly 115-120 km.
	d := Distance(-6.2, 106.816, -6.9175, 107.6191)
	assert.InDelta(t, 117_000, d, 5_000)
}

func TestDistanceCoincidentIsZero(t *testing.T) {
	for _, p := range []pt{{0, 0}, {43.6532, -79.3832}, {-90, 180}, {89.9, -179.9}} {
		assert.Zero(t, Distance(p.lat, p.lng, p.lat, p.lng), "point %v", p)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]pt{
		{{43.6532, -79.3832}, {43.6426, -79.3871}},
		{{-33.8688, 151.2093}, {51.5074, -0.1278}},
		{{0, 179.9}, {0, -179.9}},
	}
	for _, p := range pairs {
		ab := Distance(p[0].lat, p[0].lng, p[1].lat, p[1].lng)
		ba := Distance(p[1].lat, p[1].lng, p[0].lat, p[0].lng)
		assert.InDelta(t, ab, ba, 1e-9)
	}
}

func TestDistanceSmallSeparation(t *testing.T) {
	// One thousandth of a degree of latitude is ~111 m.
	d := Distance(45, 10, 45.001, 10)
	assert.InDelta(t, 111.2, d, 0.5)
	assert.Less(t, d, Distance(45, 10, 45.002, 10))
}

func TestPathDistance(t *testing.T) {
	assert.Zero(t, PathDistanceKm([]pt{}))
	assert.Zero(t, PathDistanceKm([]pt{{45, 10}}))

	path := []pt{{45, 10}, {45.001, 10}, {45.002, 10}}
	want := Distance(45, 10, 45.001, 10) + Distance(45.001, 10, 45.002, 10)
	assert.InDelta(t, want, PathDistanceM(path), 1e-9)
	assert.InDelta(t, want/1000, PathDistanceKm(path), 1e-12)
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(0, 0))
	assert.True(t, ValidCoordinates(-90, 180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
	assert.False(t, ValidCoordinates(math.NaN(), 0))
	assert.False(t, ValidCoordinates(0, math.Inf(1)))
}
