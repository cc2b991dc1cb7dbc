package gps

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/logger"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// ReplaySource plays back a recorded sample log.
type ReplaySource struct {
	name    string
	samples []trip.PositionSample
	speed   float64
	once    sync.Once
	done    chan struct{}
}

// NewReplay replays samples at speed times real time. A speed of 0 or less
// delivers them back to back.
func NewReplay(name string, samples []trip.PositionSample, speed float64) *ReplaySource {
	return &ReplaySource{name: name, samples: samples, speed: speed, done: make(chan struct{})}
}

// OpenReplay loads a CSV sample log written by the logger package.
func OpenReplay(path string, speed float64) (*ReplaySource, error) {
	samples, err := logger.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gps: replay %s: %w", path, err)
	}
	return NewReplay(path, samples, speed), nil
}

func (r *ReplaySource) Name() string { return "Replay " + r.name }

// Len returns the number of samples in the log.
func (r *ReplaySource) Len() int { return len(r.samples) }

func (r *ReplaySource) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionGranted, nil
}

// Done is closed once the first watch has delivered every sample or was cancelled.
func (r *ReplaySource) Done() <-chan struct{} { return r.done }

// Watch delivers the log in order from its own goroutine.
func (r *ReplaySource) Watch(opts WatchOptions, onSample func(trip.PositionSample), onError func(error)) (Subscription, error) {
	w := &pollWatch{done: make(chan struct{})}
	go func() {
		defer r.finish()
		for i, s := range r.samples {
			if i > 0 && r.speed > 0 {
				gap := time.Duration(float64(s.Timestamp-r.samples[i-1].Timestamp)/r.speed) * time.Millisecond
				if gap > 0 {
					t := time.NewTimer(gap)
					select {
					case <-w.done:
						t.Stop()
						return
					case <-t.C:
					}
				}
			}
			if w.cancelled() {
				return
			}
			onSample(s)
		}
		log.Printf("[gps] replay %s: %d samples delivered", r.name, len(r.samples))
	}()
	return w, nil
}

func (r *ReplaySource) finish() {
	r.once.Do(func() { close(r.done) })
}
