package gps

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// PolledSource turns a polled Provider into a push-based LocationSource.
type PolledSource struct {
	prov     Provider
	interval time.Duration
	now      func() time.Time
}

// NewPolledSource polls prov every interval (default 100ms, 10 Hz).
func NewPolledSource(prov Provider, interval time.Duration) *PolledSource {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &PolledSource{prov: prov, interval: interval, now: time.Now}
}

func (p *PolledSource) Name() string { return p.prov.Name() }

// RequestPermission delegates to the provider when it knows about permissions.
func (p *PolledSource) RequestPermission(ctx context.Context) (Permission, error) {
	if pm, ok := p.prov.(Permitter); ok {
		return pm.RequestPermission(ctx)
	}
	return "", ErrPermissionUnsupported
}

type pollWatch struct {
	once sync.Once
	done chan struct{}
}

func (w *pollWatch) Cancel() {
	w.once.Do(func() { close(w.done) })
}

func (w *pollWatch) cancelled() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Watch starts a polling goroutine delivering fresh fixes to onSample.
// Repeated reads of the same fix are delivered once.
func (p *PolledSource) Watch(opts WatchOptions, onSample func(trip.PositionSample), onError func(error)) (Subscription, error) {
	opts = opts.withDefaults()
	w := &pollWatch{done: make(chan struct{})}
	go p.loop(w, opts, onSample, onError)
	return w, nil
}

func (p *PolledSource) read() (trip.PositionSample, error) {
	data, err := p.prov.Read()
	if err != nil {
		return trip.PositionSample{}, err
	}
	return data.Sample()
}

func (p *PolledSource) loop(w *pollWatch, opts WatchOptions, onSample func(trip.PositionSample), onError func(error)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		lastTs    int64
		lastFresh = p.now()
		lastErr   error
	)

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
		}

		s, err := p.read()
		lastErr = err
		if err == nil && s.Timestamp != lastTs &&
			(opts.MaximumAge <= 0 || p.now().Sub(s.Time()) <= opts.MaximumAge) {
			lastTs = s.Timestamp
			lastFresh = p.now()
			if w.cancelled() {
				return
			}
			onSample(s)
			continue
		}

		if p.now().Sub(lastFresh) <= opts.Timeout {
			continue
		}
		lastFresh = p.now()
		log.Printf("[gps] %s: no fresh fix for %v", p.prov.Name(), opts.Timeout)
		if onError == nil || w.cancelled() {
			continue
		}
		var le *LocationError
		switch {
		case errors.As(lastErr, &le):
			onError(le)
		case lastErr != nil:
			onError(&LocationError{Code: CodePositionUnavailable, Err: lastErr})
		default:
			onError(&LocationError{Code: CodeTimeout})
		}
	}
}
