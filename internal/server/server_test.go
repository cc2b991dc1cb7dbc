package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/tripdiary/internal/detector"
	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/logger"
	"github.com/shaunagostinho/tripdiary/internal/stats"
	"github.com/shaunagostinho/tripdiary/internal/store"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// stubSource hands samples to the detector when the test calls push.
type stubSource struct {
	mu       sync.Mutex
	perm     gps.Permission
	onSample func(trip.PositionSample)
}

type stubSub struct{}

func (stubSub) Cancel() {}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) RequestPermission(ctx context.Context) (gps.Permission, error) {
	return s.perm, nil
}

func (s *stubSource) Watch(opts gps.WatchOptions, onSample func(trip.PositionSample), onError func(error)) (gps.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = onSample
	return stubSub{}, nil
}

func (s *stubSource) push(samples ...trip.PositionSample) {
	s.mu.Lock()
	fn := s.onSample
	s.mu.Unlock()
	for _, p := range samples {
		fn(p)
	}
}

type testEnv struct {
	cfg      *Config
	src      *stubSource
	det      *detector.TripDetector
	queue    *store.FileQueue
	recorder *logger.Logger
	srv      *Server
	http     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := LoadConfig(filepath.Join(dir, "config.yaml"))
	src := &stubSource{perm: gps.PermissionGranted}
	queue := store.NewFileQueue(filepath.Join(dir, "pending.json"))
	det := detector.New(src, nil, queue)
	recorder := logger.New(logger.Config{Path: filepath.Join(dir, "samples")})
	srv := New(cfg, det, stats.NewTracker(filepath.Join(dir, "stats.json")), recorder)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		det.StopTracking()
		det.Wait()
	})
	return &testEnv{cfg: cfg, src: src, det: det, queue: queue, recorder: recorder, srv: srv, http: hs}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func driveTrip(src *stubSource) {
	a := trip.PositionSample{Latitude: 43.6532, Longitude: -79.3832, Timestamp: 1_700_000_000_000}
	b := trip.PositionSample{Latitude: 43.6559, Longitude: -79.3832, Timestamp: a.Timestamp + 60_000}
	c := trip.PositionSample{Latitude: 43.65592, Longitude: -79.3832, Timestamp: b.Timestamp + 6*60_000}
	src.push(a, b, c)
}

func TestTrackingStartStop(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/tracking/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st detector.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Tracking)
	assert.Equal(t, "stub", st.Source)
	assert.True(t, e.cfg.AutoStart())

	saved := LoadConfig(e.cfg.Path())
	assert.True(t, saved.AutoStart())

	resp, body = e.do(t, http.MethodGet, "/api/tracking", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Tracking)

	resp, body = e.do(t, http.MethodPost, "/api/tracking/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.False(t, st.Tracking)
	assert.False(t, e.cfg.AutoStart())
}

func TestTrackingStart_PermissionDenied(t *testing.T) {
	e := newTestEnv(t)
	e.src.perm = gps.PermissionDenied

	resp, _ := e.do(t, http.MethodPost, "/api/tracking/start", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, e.det.IsTracking())
	assert.False(t, e.cfg.AutoStart())
}

func TestTripFlowsToPendingAndStats(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.srv.StartTracking(t.Context()))

	driveTrip(e.src)
	e.det.Wait()

	resp, body := e.do(t, http.MethodGet, "/api/trips/pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []trip.DetectedTrip
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, trip.ModeBus, pending[0].Mode)

	resp, body = e.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st stats.Statistics
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 1, st.TripCount)
	assert.Equal(t, 1, st.ModeBreakdown[trip.ModeBus].Count)

	resp, body = e.do(t, http.MethodPost, "/api/trips/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res detector.SyncResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Unauthenticated)

	resp, body = e.do(t, http.MethodPost, "/api/stats/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Zero(t, st.TripCount)
}

func TestPendingEmptyIsArray(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/trips/pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestConfigAPI(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Remote.JWTSecret = "top-secret"

	resp, body := e.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "top-secret")
	assert.Contains(t, string(body), `"minDistanceMeters":200`)

	resp, _ = e.do(t, http.MethodPost, "/api/config", `{"detection":{"minMovementMeters":25}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 25.0, e.cfg.Detection.MinMovementMeters)
	assert.Equal(t, "top-secret", e.cfg.Remote.JWTSecret)

	resp, _ = e.do(t, http.MethodPost, "/api/config", `{"gps":{"type":"sonar"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfigAPI_TogglesRecorder(t *testing.T) {
	e := newTestEnv(t)
	require.False(t, e.recorder.IsEnabled())

	resp, _ := e.do(t, http.MethodPost, "/api/config", `{"logging":{"enabled":true}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, e.recorder.IsEnabled())

	require.NoError(t, e.srv.StartTracking(t.Context()))
	e.src.push(trip.PositionSample{Latitude: 1, Longitude: 2, Timestamp: 1_700_000_000_000})
	assert.NotEmpty(t, e.recorder.CurrentFile())

	resp, _ = e.do(t, http.MethodPost, "/api/config", `{"logging":{"enabled":false}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.recorder.IsEnabled())
	assert.Empty(t, e.recorder.CurrentFile())
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.srv.StartTracking(t.Context()))
	driveTrip(e.src)
	e.det.Wait()

	resp, body := e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, "tripdiary_location_samples_total 3")
	assert.Contains(t, text, `tripdiary_trips_detected_total{mode="bus"} 1`)
	assert.Contains(t, text, `tripdiary_trips_persisted_total{outcome="queued"} 1`)
	assert.Contains(t, text, "tripdiary_pending_trips 1")
	assert.Contains(t, text, "tripdiary_tracking 1")
}

func TestWebSocketFrames(t *testing.T) {
	e := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var f Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	require.NotNil(t, f.Status)
	assert.False(t, f.Status.Tracking)
	require.NotNil(t, f.Stats)

	require.Eventually(t, func() bool {
		e.srv.clientsMu.RLock()
		defer e.srv.clientsMu.RUnlock()
		return len(e.srv.clients) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.srv.StartTracking(t.Context()))
	f = Frame{}
	require.NoError(t, conn.ReadJSON(&f))
	require.NotNil(t, f.Status)
	assert.True(t, f.Status.Tracking)

	p := trip.PositionSample{Latitude: 1, Longitude: 2, Timestamp: 1_700_000_000_000}
	e.src.push(p)
	f = Frame{}
	require.NoError(t, conn.ReadJSON(&f))
	require.NotNil(t, f.Location)
	assert.Equal(t, p, *f.Location)
}
