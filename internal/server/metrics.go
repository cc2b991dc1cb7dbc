package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaunagostinho/tripdiary/internal/detector"
	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// Metrics are the Prometheus collectors exported on /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	samples   prometheus.Counter
	trips     *prometheus.CounterVec
	tripKm    *prometheus.CounterVec
	locErrors *prometheus.CounterVec
	persisted *prometheus.CounterVec
	tracking  prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry. pending reports
// the pending queue depth at scrape time.
func NewMetrics(pending func() int) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tripdiary",
			Name:      "location_samples_total",
			Help:      "Location samples processed while tracking.",
		}),
		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdiary",
			Name:      "trips_detected_total",
			Help:      "Completed trips by transport mode.",
		}, []string{"mode"}),
		tripKm: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdiary",
			Name:      "trip_distance_km_total",
			Help:      "Distance of completed trips by transport mode.",
		}, []string{"mode"}),
		locErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdiary",
			Name:      "location_errors_total",
			Help:      "Location errors by code.",
		}, []string{"code"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdiary",
			Name:      "trips_persisted_total",
			Help:      "Trip saves by outcome: saved, queued or lost.",
		}, []string{"outcome"}),
		tracking: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tripdiary",
			Name:      "tracking",
			Help:      "1 while location tracking is active.",
		}),
	}
	pendingGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tripdiary",
		Name:      "pending_trips",
		Help:      "Trips waiting in the pending queue.",
	}, func() float64 { return float64(pending()) })

	for _, mode := range trip.Modes {
		m.trips.WithLabelValues(string(mode))
		m.tripKm.WithLabelValues(string(mode))
	}

	m.Registry.MustRegister(
		m.samples, m.trips, m.tripKm, m.locErrors, m.persisted, m.tracking, pendingGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// observe subscribes the collectors to a detector.
func (m *Metrics) observe(det *detector.TripDetector) {
	det.OnLocationUpdate(func(trip.PositionSample) { m.samples.Inc() })
	det.OnTripDetected(func(t trip.DetectedTrip) {
		m.trips.WithLabelValues(string(t.Mode)).Inc()
		m.tripKm.WithLabelValues(string(t.Mode)).Add(t.Distance)
	})
	det.OnError(func(err error) {
		m.locErrors.WithLabelValues(gps.CodeOf(err).String()).Inc()
	})
	det.OnPersisted(func(r detector.PersistResult) {
		switch {
		case r.Lost:
			m.persisted.WithLabelValues("lost").Inc()
		case r.Queued:
			m.persisted.WithLabelValues("queued").Inc()
		default:
			m.persisted.WithLabelValues("saved").Inc()
		}
	})
}

func (m *Metrics) setTracking(on bool) {
	if on {
		m.tracking.Set(1)
	} else {
		m.tracking.Set(0)
	}
}

// pendingCounter reads the queue depth with a short timeout for scrapes.
func pendingCounter(det *detector.TripDetector) func() int {
	return func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		trips, err := det.PendingTrips(ctx)
		if err != nil {
			return -1
		}
		return len(trips)
	}
}
