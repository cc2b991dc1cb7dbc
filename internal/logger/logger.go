package logger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// Logger records raw position samples to CSV files with automatic rotation.
// The files can be fed back through a replay source.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	path   string
	writer *csv.Writer
	lastTs int64
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"` // 0 records every sample
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~28 hrs at 1 Hz)
	filePrefix     = "samples_"
)

var csvHeader = []string{"timestamp_ms", "time", "lat", "lng", "accuracy_m"}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/tripdiary"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 0 {
		interval = 0
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// CurrentFile returns the path being written, or "" when no file is open.
func (l *Logger) CurrentFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Record writes a sample if the minimum interval has elapsed since the last
// recorded one. The interval is measured on sample time, not wall time.
func (l *Logger) Record(s trip.PositionSample) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if l.rows > 0 && s.Timestamp-l.lastTs < l.interval.Milliseconds() {
		return
	}
	l.lastTs = s.Timestamp

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(s.Time()); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(s)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("%s%s.csv", filePrefix, now.UTC().Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.path = path
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.path = ""
}

func buildRow(s trip.PositionSample) []string {
	return []string{
		strconv.FormatInt(s.Timestamp, 10),
		s.Time().UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%.7f", s.Latitude),
		fmt.Sprintf("%.7f", s.Longitude),
		fmt.Sprintf("%.1f", s.Accuracy),
	}
}

// ErrBadHeader is returned when a file is not a sample log.
var ErrBadHeader = errors.New("logger: not a sample log")

// ReadSamples parses a sample log written by Logger.
func ReadSamples(r io.Reader) ([]trip.PositionSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrBadHeader
		}
		return nil, fmt.Errorf("logger: read header: %w", err)
	}
	if header[0] != csvHeader[0] {
		return nil, ErrBadHeader
	}

	var out []trip.PositionSample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("logger: line %d: %w", line, err)
		}
		s, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("logger: line %d: %w", line, err)
		}
		out = append(out, s)
	}
}

func parseRow(rec []string) (trip.PositionSample, error) {
	var (
		s   trip.PositionSample
		err error
	)
	if s.Timestamp, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return s, err
	}
	if s.Latitude, err = strconv.ParseFloat(rec[2], 64); err != nil {
		return s, err
	}
	if s.Longitude, err = strconv.ParseFloat(rec[3], 64); err != nil {
		return s, err
	}
	if s.Accuracy, err = strconv.ParseFloat(rec[4], 64); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// ReadFile reads one sample log from disk.
func ReadFile(path string) ([]trip.PositionSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSamples(f)
}

// Files lists the sample logs in dir, oldest first.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
