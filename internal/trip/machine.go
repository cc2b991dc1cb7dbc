package trip

import (
	"time"

	"github.com/shaunagostinho/tripdiary/internal/geo"
)

// Thresholds tune trip start/stop detection.
type Thresholds struct {
	// MinDistanceMeters is the jump between two fixes that starts a trip.
	MinDistanceMeters float64 `yaml:"min_distance_meters" json:"minDistanceMeters"`
	// StopDuration is how long the device must stay put to end a trip.
	StopDuration time.Duration `yaml:"stop_duration" json:"stopDuration"`
	// MinMovementMeters is the radius that counts as "stayed put".
	MinMovementMeters float64 `yaml:"min_movement_meters" json:"minMovementMeters"`
}

// DefaultThresholds returns 200 m / 5 min / 10 m.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDistanceMeters: 200,
		StopDuration:      5 * time.Minute,
		MinMovementMeters: 10,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MinDistanceMeters <= 0 {
		t.MinDistanceMeters = d.MinDistanceMeters
	}
	if t.StopDuration <= 0 {
		t.StopDuration = d.StopDuration
	}
	if t.MinMovementMeters <= 0 {
		t.MinMovementMeters = d.MinMovementMeters
	}
	return t
}

// Accumulator is the in-progress trip.
type Accumulator struct {
	Origin    Place
	StartTime time.Time
	Path      []PathPoint
}

func (a *Accumulator) clone() Accumulator {
	c := *a
	c.Path = append([]PathPoint(nil), a.Path...)
	return c
}

// tripState is either noActiveTrip or activeTrip.
type tripState interface{ isTripState() }

type noActiveTrip struct{}

type activeTrip struct{ acc *Accumulator }

func (noActiveTrip) isTripState() {}
func (activeTrip) isTripState()   {}

// Event tells the caller what a Step did.
type Event int

const (
	EventFirstFix    Event = iota // no previous fix to compare with
	EventIdle                     // no trip, not enough movement
	EventTripStarted              // a trip was opened
	EventTripUpdated              // sample appended to the active trip
	EventTripEnded                // trip closed; Outcome.Trip is set
)

func (e Event) String() string {
	switch e {
	case EventFirstFix:
		return "first_fix"
	case EventIdle:
		return "idle"
	case EventTripStarted:
		return "trip_started"
	case EventTripUpdated:
		return "trip_updated"
	case EventTripEnded:
		return "trip_ended"
	}
	return "unknown"
}

// Outcome is the result of feeding one sample to the Machine.
type Outcome struct {
	Event Event
	// DistanceM is the distance from the previous fix (0 on the first fix).
	DistanceM float64
	Trip      *DetectedTrip
}

// Machine is the trip lifecycle state machine. It does no I/O and is not safe
// for concurrent use; the owner serialises calls.
type Machine struct {
	th    Thresholds
	last  *PositionSample
	state tripState
}

// NewMachine creates an idle machine. Zero threshold fields take defaults.
func NewMachine(th Thresholds) *Machine {
	return &Machine{th: th.withDefaults(), state: noActiveTrip{}}
}

// Thresholds returns the effective thresholds.
func (m *Machine) Thresholds() Thresholds { return m.th }

// Step applies one sample and reports the transition taken.
func (m *Machine) Step(s PositionSample) Outcome {
	if m.last == nil {
		m.remember(s)
		return Outcome{Event: EventFirstFix}
	}

	last := *m.last
	dist := geo.Between(last, s)
	out := Outcome{DistanceM: dist}

	switch st := m.state.(type) {
	case noActiveTrip:
		if dist > m.th.MinDistanceMeters {
			m.state = activeTrip{acc: &Accumulator{
				Origin:    placeAt(last),
				StartTime: last.Time(),
				Path:      []PathPoint{PointOf(last), PointOf(s)},
			}}
			out.Event = EventTripStarted
		} else {
			out.Event = EventIdle
		}

	case activeTrip:
		elapsed := s.Timestamp - last.Timestamp
		if dist < m.th.MinMovementMeters && elapsed > m.th.StopDuration.Milliseconds() {
			t := finish(st.acc, s)
			m.state = noActiveTrip{}
			out.Event = EventTripEnded
			out.Trip = &t
		} else {
			st.acc.Path = append(st.acc.Path, PointOf(s))
			out.Event = EventTripUpdated
		}
	}

	m.remember(s)
	return out
}

func finish(acc *Accumulator, end PositionSample) DetectedTrip {
	path := append([]PathPoint(nil), acc.Path...)
	return DetectedTrip{
		Origin:      acc.Origin,
		Destination: placeAt(end),
		StartTime:   acc.StartTime,
		EndTime:     end.Time(),
		Distance:    PathDistanceKm(path),
		Mode:        ClassifyMode(path),
		Path:        path,
	}
}

func (m *Machine) remember(s PositionSample) {
	m.last = &s
}

// InTrip reports whether a trip accumulator exists.
func (m *Machine) InTrip() bool {
	_, ok := m.state.(activeTrip)
	return ok
}

// Active returns a copy of the current accumulator.
func (m *Machine) Active() (Accumulator, bool) {
	if st, ok := m.state.(activeTrip); ok {
		return st.acc.clone(), true
	}
	return Accumulator{}, false
}

// Last returns the most recent fix.
func (m *Machine) Last() (PositionSample, bool) {
	if m.last == nil {
		return PositionSample{}, false
	}
	return *m.last, true
}

// Reset drops the active trip (without emitting it) and the last fix.
func (m *Machine) Reset() {
	m.last = nil
	m.state = noActiveTrip{}
}
