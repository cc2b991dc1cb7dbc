// Package stats keeps running trip totals and an odometer, persisted to a
// small file next to the config.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/geo"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// ModeStats accumulates trips of one transport mode.
type ModeStats struct {
	Distance float64 `json:"distance"` // km
	Duration int     `json:"duration"` // minutes
	Count    int     `json:"count"`
}

// Statistics is the persisted summary.
type Statistics struct {
	TotalDistance float64                          `json:"totalDistance"` // km
	TotalDuration int                              `json:"totalDuration"` // minutes
	TripCount     int                              `json:"tripCount"`
	ModeBreakdown map[trip.TransportMode]ModeStats `json:"modeBreakdown"`
	Odometer      float64                          `json:"odometer"` // km of raw movement
	Since         time.Time                        `json:"since"`
}

func empty(now time.Time) Statistics {
	s := Statistics{
		ModeBreakdown: make(map[trip.TransportMode]ModeStats, len(trip.Modes)),
		Since:         now.UTC(),
	}
	for _, m := range trip.Modes {
		s.ModeBreakdown[m] = ModeStats{}
	}
	return s
}

func (s Statistics) clone() Statistics {
	c := s
	c.ModeBreakdown = make(map[trip.TransportMode]ModeStats, len(s.ModeBreakdown))
	for k, v := range s.ModeBreakdown {
		c.ModeBreakdown[k] = v
	}
	return c
}

const (
	// maxPlausibleKmh rejects odometer jumps faster than any supported mode.
	maxPlausibleKmh = 400.0
	// minOdoStepM ignores jitter while standing still.
	minOdoStepM = 2.0
)

// Tracker accumulates statistics from detected trips and raw samples.
type Tracker struct {
	mu    sync.Mutex
	path  string
	stats Statistics
	last  *trip.PositionSample
	dirty bool
}

// NewTracker loads saved statistics from path, starting empty if there are none.
// An empty path keeps statistics in memory only.
func NewTracker(path string) *Tracker {
	t := &Tracker{path: path, stats: empty(time.Now())}
	t.load()
	return t
}

// DefaultPath places the stats file next to the config file.
func DefaultPath(configPath string) string {
	if configPath == "" {
		return "/etc/tripdiary/stats.json"
	}
	return filepath.Join(filepath.Dir(configPath), "stats.json")
}

// AddTrip counts a completed trip.
func (t *Tracker) AddTrip(tr trip.DetectedTrip) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mins := tr.DurationMinutes()
	t.stats.TotalDistance += tr.Distance
	t.stats.TotalDuration += mins
	t.stats.TripCount++

	ms := t.stats.ModeBreakdown[tr.Mode]
	ms.Distance += tr.Distance
	ms.Duration += mins
	ms.Count++
	t.stats.ModeBreakdown[tr.Mode] = ms

	t.dirty = true
}

// AddSample advances the odometer. Jumps implying an impossible speed are
// treated as glitches: the position is re-seeded without adding distance.
func (t *Tracker) AddSample(s trip.PositionSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil {
		t.last = &s
		return
	}
	dist := geo.Between(*t.last, s)
	elapsed := float64(s.Timestamp-t.last.Timestamp) / 1000

	switch {
	case elapsed <= 0 || dist/elapsed*3.6 > maxPlausibleKmh:
		t.last = &s
	case dist > minOdoStepM:
		t.stats.Odometer += dist / 1000
		t.last = &s
		t.dirty = true
	}
}

// ResetPosition forgets the last odometer fix, e.g. when tracking stops.
func (t *Tracker) ResetPosition() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = nil
}

// Snapshot returns a copy of the current statistics with distances rounded
// to 10 m.
func (t *Tracker) Snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats.clone()
	s.TotalDistance = round2(s.TotalDistance)
	s.Odometer = round2(s.Odometer)
	for k, v := range s.ModeBreakdown {
		v.Distance = round2(v.Distance)
		s.ModeBreakdown[k] = v
	}
	return s
}

// Reset clears all statistics and saves the empty state.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	t.stats = empty(time.Now())
	t.last = nil
	t.dirty = true
	t.mu.Unlock()
	return t.Save()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (t *Tracker) load() {
	if t.path == "" {
		return
	}
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[stats] no saved data at %s (starting at 0)", t.path)
		return
	}
	if err != nil {
		log.Printf("[stats] read %s: %v", t.path, err)
		return
	}
	loaded := empty(time.Now())
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("[stats] parse %s: %v (starting at 0)", t.path, err)
		return
	}
	if loaded.ModeBreakdown == nil {
		loaded.ModeBreakdown = make(map[trip.TransportMode]ModeStats, len(trip.Modes))
	}
	for _, m := range trip.Modes {
		if _, ok := loaded.ModeBreakdown[m]; !ok {
			loaded.ModeBreakdown[m] = ModeStats{}
		}
	}
	t.stats = loaded
	log.Printf("[stats] loaded: %d trips, %.1f km", loaded.TripCount, loaded.TotalDistance)
}

// Save persists the statistics if they changed since the last save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	if t.path == "" || !t.dirty {
		t.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(t.stats, "", "  ")
	t.dirty = false
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("stats: mkdir: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return fmt.Errorf("stats: save: %w", err)
	}
	return nil
}
