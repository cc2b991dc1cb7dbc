package detector

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/store"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

const t0 = int64(1_700_000_000_000)

var metersPerDegLat = 6371e3 * math.Pi / 180

func at(lat, lng float64, ts int64) trip.PositionSample {
	return trip.PositionSample{Latitude: lat, Longitude: lng, Timestamp: ts, Accuracy: 5}
}

// north moves s by meters towards the pole, afterMs later.
func north(s trip.PositionSample, meters float64, afterMs int64) trip.PositionSample {
	return at(s.Latitude+meters/metersPerDegLat, s.Longitude, s.Timestamp+afterMs)
}

// fakeSource delivers samples synchronously from the test goroutine.
type fakeSource struct {
	mu       sync.Mutex
	perm     gps.Permission
	permErr  error
	watchErr error
	watches  int
	onSample func(trip.PositionSample)
	onError  func(error)
	subs     []*fakeSub
}

type fakeSub struct {
	mu        sync.Mutex
	cancelled int
}

func (s *fakeSub) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
}

func (s *fakeSub) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled > 0
}

func newFakeSource() *fakeSource {
	return &fakeSource{perm: gps.PermissionGranted}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) RequestPermission(ctx context.Context) (gps.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm, f.permErr
}

func (f *fakeSource) Watch(opts gps.WatchOptions, onSample func(trip.PositionSample), onError func(error)) (gps.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watches++
	f.onSample = onSample
	f.onError = onError
	sub := &fakeSub{}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// push delivers samples through the most recent watch, even a cancelled one,
// the way a late callback from a real source would.
func (f *fakeSource) push(samples ...trip.PositionSample) {
	f.mu.Lock()
	fn := f.onSample
	f.mu.Unlock()
	for _, s := range samples {
		fn(s)
	}
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

// fakeRemote records inserts and fails the ones listed in failOn (1-based call numbers).
type fakeRemote struct {
	mu       sync.Mutex
	user     *store.User
	userErr  error
	failOn   map[int]bool
	calls    int
	inserted []store.TripRecord
	userIDs  []string

	// When block is set, every insert signals entered (if there is room) and
	// waits until block is closed.
	block   chan struct{}
	entered chan struct{}
}

var errRemoteDown = errors.New("remote unavailable")

func (r *fakeRemote) signIn(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = &store.User{ID: id}
}

func (r *fakeRemote) CurrentUser(ctx context.Context) (*store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user, r.userErr
}

func (r *fakeRemote) InsertTrip(ctx context.Context, userID string, rec store.TripRecord) error {
	if r.block != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failOn[r.calls] {
		return errRemoteDown
	}
	r.inserted = append(r.inserted, rec)
	r.userIDs = append(r.userIDs, userID)
	return nil
}

func (r *fakeRemote) records() []store.TripRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.TripRecord(nil), r.inserted...)
}

type harness struct {
	src    *fakeSource
	remote *fakeRemote
	queue  *store.FileQueue
	det    *TripDetector
	trips  []trip.DetectedTrip
	mu     sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		src:    newFakeSource(),
		remote: &fakeRemote{},
		queue:  store.NewFileQueue(filepath.Join(t.TempDir(), "pending.json")),
	}
	h.det = New(h.src, h.remote, h.queue)
	h.det.OnTripDetected(func(tr trip.DetectedTrip) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.trips = append(h.trips, tr)
	})
	t.Cleanup(func() {
		h.det.StopTracking()
		h.det.Wait()
	})
	return h
}

func (h *harness) detected() []trip.DetectedTrip {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]trip.DetectedTrip(nil), h.trips...)
}

// driveTrip feeds A, B (300 m, 1 min later) and C (5 m, 6 min after B),
// which opens and closes one trip. It returns A and C.
func (h *harness) driveTrip(a trip.PositionSample) (trip.PositionSample, trip.PositionSample) {
	b := north(a, 300, 60_000)
	c := north(b, 5, 6*60_000)
	h.src.push(a, b, c)
	return a, c
}
