// Package detector turns a stream of location fixes into detected trips and
// makes sure every trip reaches the remote store, now or on a later sync.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/store"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// ErrPermissionDenied is returned by StartTracking when location access is refused.
var ErrPermissionDenied = errors.New("detector: location permission denied")

// persistTimeout bounds one background save, remote attempt and fallback included.
const persistTimeout = 30 * time.Second

// PersistResult describes where a finished trip ended up.
type PersistResult struct {
	Trip   trip.DetectedTrip
	UserID string // empty when nobody was signed in
	Queued bool   // saved to the pending queue instead of the remote store
	Lost   bool   // neither saved nor queued
	Err    error  // remote failure that caused the fallback, or the queue failure
}

// Status is a point-in-time view of the detector.
type Status struct {
	Tracking   bool                 `json:"tracking"`
	InTrip     bool                 `json:"inTrip"`
	Source     string               `json:"source"`
	TripStart  *time.Time           `json:"tripStart,omitempty"`
	PathLength int                  `json:"pathLength"`
	Last       *trip.PositionSample `json:"last,omitempty"`
}

// Option configures a TripDetector.
type Option func(*TripDetector)

func WithThresholds(th trip.Thresholds) Option {
	return func(d *TripDetector) { d.machine = trip.NewMachine(th) }
}

func WithWatchOptions(o gps.WatchOptions) Option {
	return func(d *TripDetector) { d.watch = o }
}

// TripDetector owns the trip state machine for one location source.
// remote and queue may be nil: without a remote every trip is queued, and
// without a queue a failed save is only logged.
type TripDetector struct {
	src    gps.LocationSource
	remote store.RemoteStore
	queue  store.PendingQueue
	watch  gps.WatchOptions

	startMu  sync.Mutex // serialises StartTracking
	mu       sync.Mutex
	machine  *trip.Machine
	tracking bool
	gen      uint64 // bumped on every start/stop; stale deliveries compare unequal
	sub      gps.Subscription

	syncMu  sync.Mutex // one sync pass at a time
	queueMu sync.Mutex // guards queue reads and writes, never held across remote calls

	persistMu   sync.Mutex
	persistDone *sync.Cond
	backlog     []trip.DetectedTrip // finished trips waiting for the persist worker
	inflight    int                 // queued or being saved
	persisting  bool                // worker goroutine running

	tripObs    observers[trip.DetectedTrip]
	locObs     observers[trip.PositionSample]
	errObs     observers[error]
	persistObs observers[PersistResult]
}

// New creates an idle detector.
func New(src gps.LocationSource, remote store.RemoteStore, queue store.PendingQueue, opts ...Option) *TripDetector {
	d := &TripDetector{
		src:     src,
		remote:  remote,
		queue:   queue,
		watch:   gps.DefaultWatchOptions(),
		machine: trip.NewMachine(trip.DefaultThresholds()),
	}
	d.persistDone = sync.NewCond(&d.persistMu)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Thresholds returns the effective detection thresholds.
func (d *TripDetector) Thresholds() trip.Thresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.Thresholds()
}

// OnTripDetected registers fn for completed trips. Call the returned func to unsubscribe.
func (d *TripDetector) OnTripDetected(fn func(trip.DetectedTrip)) func() {
	return d.tripObs.add(fn)
}

// OnLocationUpdate registers fn for every accepted fix while tracking.
func (d *TripDetector) OnLocationUpdate(fn func(trip.PositionSample)) func() {
	return d.locObs.add(fn)
}

// OnError registers fn for location errors. Tracking continues after them.
func (d *TripDetector) OnError(fn func(error)) func() {
	return d.errObs.add(fn)
}

// OnPersisted registers fn for the outcome of each background save.
func (d *TripDetector) OnPersisted(fn func(PersistResult)) func() {
	return d.persistObs.add(fn)
}

// StartTracking asks for permission and subscribes to the location source.
// It is a no-op while already tracking.
func (d *TripDetector) StartTracking(ctx context.Context) error {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	d.mu.Lock()
	if d.tracking {
		d.mu.Unlock()
		return nil
	}
	gen := d.gen
	d.mu.Unlock()

	perm, err := d.src.RequestPermission(ctx)
	switch {
	case errors.Is(err, gps.ErrPermissionUnsupported):
		log.Printf("[detector] %s cannot report permission, assuming granted", d.src.Name())
	case err != nil:
		return fmt.Errorf("detector: request permission: %w", err)
	case !perm.Allowed():
		log.Printf("[detector] location permission %s", perm)
		return ErrPermissionDenied
	}

	d.mu.Lock()
	if d.gen != gen {
		// StopTracking ran while permission was pending.
		d.mu.Unlock()
		log.Printf("[detector] start abandoned: stopped while waiting for permission")
		return nil
	}
	d.gen++
	gen = d.gen
	d.tracking = true
	d.machine.Reset()
	d.mu.Unlock()

	sub, err := d.src.Watch(d.watch,
		func(s trip.PositionSample) { d.handleSample(gen, s) },
		func(err error) { d.handleError(gen, err) },
	)
	if err != nil {
		d.mu.Lock()
		if d.gen == gen {
			d.tracking = false
			d.gen++
		}
		d.mu.Unlock()
		return fmt.Errorf("detector: watch %s: %w", d.src.Name(), err)
	}

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		sub.Cancel()
		return nil
	}
	d.sub = sub
	d.mu.Unlock()

	log.Printf("[detector] tracking started on %s", d.src.Name())
	return nil
}

// StopTracking cancels the watch and drops any trip in progress without
// emitting it. It is idempotent and safe to call from an observer.
func (d *TripDetector) StopTracking() {
	d.mu.Lock()
	was := d.tracking
	sub := d.sub
	d.sub = nil
	d.tracking = false
	d.gen++
	d.machine.Reset()
	d.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if was {
		log.Printf("[detector] tracking stopped")
	}
}

func (d *TripDetector) IsTracking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracking
}

// Snapshot returns the current tracking status.
func (d *TripDetector) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{Tracking: d.tracking, Source: d.src.Name()}
	if acc, ok := d.machine.Active(); ok {
		start := acc.StartTime
		st.InTrip = true
		st.TripStart = &start
		st.PathLength = len(acc.Path)
	}
	if last, ok := d.machine.Last(); ok {
		st.Last = &last
	}
	return st
}

func (d *TripDetector) handleSample(gen uint64, s trip.PositionSample) {
	d.mu.Lock()
	if !d.tracking || d.gen != gen {
		d.mu.Unlock()
		return
	}
	out := d.machine.Step(s)
	d.mu.Unlock()

	switch out.Event {
	case trip.EventTripStarted:
		log.Printf("[detector] trip started (moved %.0f m)", out.DistanceM)
	case trip.EventTripEnded:
		t := *out.Trip
		log.Printf("[detector] trip ended: %.2f km in %d min by %s", t.Distance, t.DurationMinutes(), t.Mode)
		d.tripObs.notify(t)
		d.persist(t)
	}
	d.locObs.notify(s)
}

func (d *TripDetector) handleError(gen uint64, err error) {
	d.mu.Lock()
	stale := !d.tracking || d.gen != gen
	d.mu.Unlock()
	if stale {
		return
	}
	log.Printf("[detector] location error (%s): %v", gps.CodeOf(err), err)
	d.errObs.notify(err)
}

// Wait blocks until every trip handed to persistence so far has been saved
// or queued and its OnPersisted observers have run.
func (d *TripDetector) Wait() {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()
	for d.inflight > 0 {
		d.persistDone.Wait()
	}
}

// persist hands t to the persist worker. Trips are saved one at a time in the
// order they finished, so the pending queue keeps trip order.
func (d *TripDetector) persist(t trip.DetectedTrip) {
	d.persistMu.Lock()
	d.backlog = append(d.backlog, t)
	d.inflight++
	start := !d.persisting
	d.persisting = true
	d.persistMu.Unlock()

	if start {
		go d.persistLoop()
	}
}

// persistLoop drains the backlog and exits when it is empty.
func (d *TripDetector) persistLoop() {
	for {
		d.persistMu.Lock()
		if len(d.backlog) == 0 {
			d.persisting = false
			d.persistMu.Unlock()
			return
		}
		t := d.backlog[0]
		d.backlog = d.backlog[1:]
		d.persistMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		res := d.save(ctx, t)
		cancel()
		d.persistObs.notify(res)

		d.persistMu.Lock()
		d.inflight--
		if d.inflight == 0 {
			d.persistDone.Broadcast()
		}
		d.persistMu.Unlock()
	}
}

// save writes t remotely for the signed-in user, or queues it.
func (d *TripDetector) save(ctx context.Context, t trip.DetectedTrip) PersistResult {
	res := PersistResult{Trip: t}

	if d.remote != nil {
		user, err := d.remote.CurrentUser(ctx)
		switch {
		case err != nil:
			res.Err = err
			log.Printf("[detector] resolve user: %v, queueing trip", err)
		case user == nil:
			log.Printf("[detector] not signed in, queueing trip")
		default:
			res.UserID = user.ID
			if err := d.remote.InsertTrip(ctx, user.ID, store.RecordFromTrip(t)); err != nil {
				res.Err = err
				log.Printf("[detector] save trip: %v, queueing", err)
			} else {
				return res
			}
		}
	}

	if err := d.enqueue(ctx, t); err != nil {
		res.Lost = true
		res.Err = err
		log.Printf("[detector] trip lost: %v", err)
		return res
	}
	res.Queued = true
	return res
}

func (d *TripDetector) enqueue(ctx context.Context, t trip.DetectedTrip) error {
	if d.queue == nil {
		return errors.New("detector: no pending queue configured")
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if err := d.queue.Append(ctx, t); err != nil {
		return fmt.Errorf("detector: queue trip: %w", err)
	}
	return nil
}
