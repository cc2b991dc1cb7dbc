package gps

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/geo"
)

// demoLeg is one stage of the simulated day. A zero speed is a dwell, reported
// as a single fix after the whole duration (the receiver sleeps while parked).
type demoLeg struct {
	speedKmh float64
	duration time.Duration
	bearing  float64 // degrees true
}

// demoRoute: park, drive 5 km east, park, train 20 km west, park.
var demoRoute = []demoLeg{
	{duration: 2 * time.Minute},
	{speedKmh: 60, duration: 5 * time.Minute, bearing: 90},
	{duration: 6 * time.Minute},
	{speedKmh: 100, duration: 12 * time.Minute, bearing: 270},
	{duration: 6 * time.Minute},
}

// demoStep is the simulated time between fixes while moving.
const demoStep = 15 * time.Second

// DemoGPS generates a scripted sequence of trips on a simulated clock.
// Every Read advances the clock, so the route plays as fast as it is polled.
type DemoGPS struct {
	mu      sync.Mutex
	rng     *rand.Rand
	lat     float64
	lng     float64
	clock   time.Time
	leg     int
	legLeft time.Duration
	started bool
}

// NewDemo starts the route in downtown Toronto at the given simulated time.
func NewDemo(start time.Time) *DemoGPS {
	return &DemoGPS{
		rng:     rand.New(rand.NewPCG(43, 79)),
		lat:     43.6532,
		lng:     -79.3832,
		clock:   start.UTC(),
		legLeft: demoRoute[0].duration,
	}
}

func (d *DemoGPS) Name() string  { return "Demo GPS" }
func (d *DemoGPS) Connect() error { return nil }
func (d *DemoGPS) Close() error   { return nil }

func (d *DemoGPS) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (d *DemoGPS) Read() (*Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		d.started = true
		return d.fix(0, 0), nil
	}

	leg := demoRoute[d.leg]
	var speed, heading float64
	if leg.speedKmh == 0 {
		d.clock = d.clock.Add(d.legLeft)
		d.legLeft = 0
		d.jitter(2)
	} else {
		step := min(demoStep, d.legLeft)
		d.clock = d.clock.Add(step)
		d.legLeft -= step
		d.move(leg.speedKmh/3.6*step.Seconds(), leg.bearing)
		speed, heading = leg.speedKmh, leg.bearing
	}

	if d.legLeft <= 0 {
		d.leg = (d.leg + 1) % len(demoRoute)
		d.legLeft = demoRoute[d.leg].duration
	}
	return d.fix(speed, heading), nil
}

func (d *DemoGPS) fix(speed, heading float64) *Data {
	return &Data{
		Valid:      true,
		Latitude:   d.lat,
		Longitude:  d.lng,
		Speed:      speed,
		Heading:    heading,
		Altitude:   76 + d.rng.Float64()*2,
		Satellites: 10,
		FixQuality: 1,
		HDOP:       0.8,
		Time:       d.clock,
	}
}

// move advances meters along bearing using a flat-earth step.
func (d *DemoGPS) move(meters, bearing float64) {
	rad := bearing * math.Pi / 180
	mPerDeg := geo.EarthRadiusM * math.Pi / 180
	d.lat += meters * math.Cos(rad) / mPerDeg
	d.lng += meters * math.Sin(rad) / (mPerDeg * math.Cos(d.lat*math.Pi/180))
}

// jitter nudges the position by up to r meters in a random direction.
func (d *DemoGPS) jitter(r float64) {
	d.move(d.rng.Float64()*r, d.rng.Float64()*360)
}
