package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// pendingKey is the document key the queue lives under.
const pendingKey = "pendingTrips"

// FileQueue keeps pending trips in a small JSON document on disk.
type FileQueue struct {
	mu   sync.Mutex
	path string
}

func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

func (q *FileQueue) Path() string { return q.path }

func (q *FileQueue) load() ([]trip.DetectedTrip, error) {
	b, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read queue: %w", err)
	}
	var doc map[string][]trip.DetectedTrip
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("store: parse queue %s: %w", q.path, err)
	}
	return doc[pendingKey], nil
}

// save writes through a temp file so a crash never leaves half a queue.
func (q *FileQueue) save(trips []trip.DetectedTrip) error {
	if trips == nil {
		trips = []trip.DetectedTrip{}
	}
	b, err := json.MarshalIndent(map[string][]trip.DetectedTrip{pendingKey: trips}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("store: write queue: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("store: write queue: %w", err)
	}
	return nil
}

func (q *FileQueue) Append(ctx context.Context, t trip.DetectedTrip) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	trips, err := q.load()
	if err != nil {
		return err
	}
	return q.save(append(trips, t))
}

func (q *FileQueue) ReadAll(ctx context.Context) ([]trip.DetectedTrip, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *FileQueue) Replace(ctx context.Context, trips []trip.DetectedTrip) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(trips)
}

func (q *FileQueue) Clear(ctx context.Context) error {
	return q.Replace(ctx, nil)
}
