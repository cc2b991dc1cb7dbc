// Package events publishes detected trips to a message bus.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

const (
	TypeTripDetected = "trip.detected"
	// SubjectPrefix is the NATS subject root; the mode is appended.
	SubjectPrefix = "trips.detected."
	// Exchange is the RabbitMQ topic exchange trips are published to.
	Exchange = "trips"
	// RoutingPrefix is the AMQP routing key root; the mode is appended.
	RoutingPrefix = "trip.detected."
)

// TripEvent is the message body for a detected trip.
type TripEvent struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	OccurredAt      time.Time         `json:"occurredAt"`
	DurationMinutes int               `json:"durationMinutes"`
	AverageSpeedKmh float64           `json:"averageSpeedKmh"`
	Trip            trip.DetectedTrip `json:"trip"`
}

// NewTripEvent wraps t with a fresh event ID.
func NewTripEvent(t trip.DetectedTrip) TripEvent {
	return TripEvent{
		ID:              uuid.NewString(),
		Type:            TypeTripDetected,
		OccurredAt:      time.Now().UTC(),
		DurationMinutes: t.DurationMinutes(),
		AverageSpeedKmh: t.AverageSpeedKmh(),
		Trip:            t,
	}
}

func (e TripEvent) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends trip events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev TripEvent) error
	Close() error
}

// TripSource is anything that reports detected trips.
type TripSource interface {
	OnTripDetected(fn func(trip.DetectedTrip)) func()
}

// Forwarder publishes trips from a TripSource on its own goroutine so a slow
// broker never holds up sample processing.
type Forwarder struct {
	pub     Publisher
	queue   chan trip.DetectedTrip
	unsub   func()
	wg      sync.WaitGroup
	timeout time.Duration
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

// Forward subscribes pub to src. buffer bounds how many trips may wait for
// the broker; when full, new trips are dropped and logged.
func Forward(src TripSource, pub Publisher, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 64
	}
	f := &Forwarder{
		pub:     pub,
		queue:   make(chan trip.DetectedTrip, buffer),
		timeout: 10 * time.Second,
	}
	f.wg.Add(1)
	go f.run()
	f.unsub = src.OnTripDetected(f.enqueue)
	return f
}

func (f *Forwarder) enqueue(t trip.DetectedTrip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- t:
	default:
		log.Printf("[events] buffer full, dropping %s trip", t.Mode)
	}
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for t := range f.queue {
		ev := NewTripEvent(t)
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.pub.Publish(ctx, ev); err != nil {
			log.Printf("[events] publish %s: %v", ev.ID, err)
		}
		cancel()
	}
}

// Close unsubscribes, publishes what is still buffered and closes the publisher.
func (f *Forwarder) Close() error {
	var err error
	f.once.Do(func() {
		f.unsub()
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()
		f.wg.Wait()
		err = f.pub.Close()
	})
	return err
}
