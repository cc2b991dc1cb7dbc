package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/tripdiary/internal/detector"
	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/logger"
	"github.com/shaunagostinho/tripdiary/internal/stats"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// Server exposes the detector over HTTP and broadcasts its events to
// WebSocket clients.
type Server struct {
	cfg      *Config
	det      *detector.TripDetector
	stats    *stats.Tracker
	recorder *logger.Logger
	metrics  *Metrics

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Location *trip.PositionSample `json:"location,omitempty"`
	Trip     *trip.DetectedTrip   `json:"trip,omitempty"`
	Error    *ErrorData           `json:"error,omitempty"`
	Status   *detector.Status     `json:"status,omitempty"`
	Stats    *stats.Statistics    `json:"stats,omitempty"`
	Config   json.RawMessage      `json:"config,omitempty"`
	Stamp    int64                `json:"stamp"` // Unix ms
}

// ErrorData is a location error as sent to clients.
type ErrorData struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// New creates a Server and subscribes it to the detector. recorder may be nil.
func New(cfg *Config, det *detector.TripDetector, st *stats.Tracker, recorder *logger.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		det:      det,
		stats:    st,
		recorder: recorder,
		metrics:  NewMetrics(pendingCounter(det)),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.metrics.observe(det)
	s.subscribe()
	return s
}

func (s *Server) subscribe() {
	s.det.OnLocationUpdate(func(p trip.PositionSample) {
		s.stats.AddSample(p)
		if s.recorder != nil {
			s.recorder.Record(p)
		}
		s.broadcast(Frame{Location: &p, Stamp: time.Now().UnixMilli()})
	})
	s.det.OnTripDetected(func(t trip.DetectedTrip) {
		s.stats.AddTrip(t)
		st := s.stats.Snapshot()
		s.broadcast(Frame{Trip: &t, Stats: &st, Stamp: time.Now().UnixMilli()})
	})
	s.det.OnError(func(err error) {
		code := gps.CodeOf(err)
		s.broadcast(Frame{
			Error: &ErrorData{Code: int(code), Name: code.String(), Message: err.Error()},
			Stamp: time.Now().UnixMilli(),
		})
	})
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CorsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// Config API
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handlePostConfig)

		// Tracking control
		r.Get("/tracking", s.handleStatus)
		r.Post("/tracking/start", s.handleStart)
		r.Post("/tracking/stop", s.handleStop)

		// Pending trips
		r.Get("/trips/pending", s.handlePending)
		r.Post("/trips/sync", s.handleSync)

		// Statistics
		r.Get("/stats", s.handleStats)
		r.Post("/stats/reset", s.handleResetStats)
	})
	return r
}

// Run serves HTTP until ctx is cancelled, saving statistics periodically.
func (s *Server) Run(ctx context.Context) error {
	saveEvery := time.Duration(s.cfg.Stats.SaveSecs) * time.Second
	if saveEvery <= 0 {
		saveEvery = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(saveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.saveStats()
			}
		}
	}()

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.saveStats()
		if s.recorder != nil {
			s.recorder.Close()
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) saveStats() {
	if err := s.stats.Save(); err != nil {
		log.Printf("[stats] %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send initial status + stats
	status := s.det.Snapshot()
	st := s.stats.Snapshot()
	if data, err := json.Marshal(Frame{Status: &status, Stats: &st, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) broadcastStatus() {
	status := s.det.Snapshot()
	s.metrics.setTracking(status.Tracking)
	s.broadcast(Frame{Status: &status, Stamp: time.Now().UnixMilli()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Save(); err != nil {
		log.Printf("[config] save failed: %v", err)
	}
	s.applyRecorder()
	// Broadcast updated config
	if data, err := s.cfg.ToJSON(); err == nil {
		s.broadcast(Frame{Config: data, Stamp: time.Now().UnixMilli()})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applyRecorder switches the sample recorder to match the logging config.
func (s *Server) applyRecorder() {
	if s.recorder == nil {
		return
	}
	on := s.cfg.LoggingEnabled()
	if s.recorder.IsEnabled() == on {
		return
	}
	s.recorder.SetEnabled(on)
	log.Printf("[logger] recording enabled=%v", on)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.det.Snapshot())
}

// StartTracking starts the detector and records the auto-start preference.
func (s *Server) StartTracking(ctx context.Context) error {
	if err := s.det.StartTracking(ctx); err != nil {
		return err
	}
	s.rememberTracking(true)
	s.broadcastStatus()
	return nil
}

// StopTracking stops the detector and records the auto-start preference.
func (s *Server) StopTracking() {
	s.det.StopTracking()
	s.stats.ResetPosition()
	s.rememberTracking(false)
	s.broadcastStatus()
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.StartTracking(r.Context())
	switch {
	case errors.Is(err, detector.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err)
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.det.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.StopTracking()
	writeJSON(w, http.StatusOK, s.det.Snapshot())
}

// rememberTracking persists the auto-start preference.
func (s *Server) rememberTracking(on bool) {
	if s.cfg.AutoStart() == on {
		return
	}
	s.cfg.SetAutoStart(on)
	if err := s.cfg.Save(); err != nil {
		log.Printf("[config] save failed: %v", err)
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	trips, err := s.det.PendingTrips(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if trips == nil {
		trips = []trip.DetectedTrip{}
	}
	writeJSON(w, http.StatusOK, trips)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.det.SyncPendingTrips(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if err := s.stats.Reset(); err != nil {
		log.Printf("[stats] %v", err)
	}
	st := s.stats.Snapshot()
	s.broadcast(Frame{Stats: &st, Stamp: time.Now().UnixMilli()})
	writeJSON(w, http.StatusOK, st)
}
