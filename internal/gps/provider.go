package gps

import (
	"context"
	"errors"
	"time"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// Provider is the interface for polled GPS receivers.
type Provider interface {
	Name() string
	Connect() error
	Close() error
	// Read returns the latest GPS fix. May block briefly.
	Read() (*Data, error)
}

// Permitter is implemented by providers that can tell whether the process is
// allowed to read locations.
type Permitter interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// Data holds a single GPS fix.
type Data struct {
	Valid      bool      `json:"valid"`      // Fix is valid
	Latitude   float64   `json:"latitude"`   // Decimal degrees
	Longitude  float64   `json:"longitude"`  // Decimal degrees
	Speed      float64   `json:"speed"`      // km/h
	Heading    float64   `json:"heading"`    // Degrees true
	Altitude   float64   `json:"altitude"`   // Meters
	Satellites int       `json:"satellites"` // Sats in use
	FixQuality int       `json:"fixQuality"` // 0=none, 1=GPS, 2=DGPS
	HDOP       float64   `json:"hdop"`       // Horizontal dilution
	Time       time.Time `json:"time"`       // UTC fix time
}

// uereMeters is the assumed user-equivalent range error used to turn HDOP
// into an accuracy estimate.
const uereMeters = 5.0

// Sample converts a valid fix into a position sample.
func (d *Data) Sample() (trip.PositionSample, error) {
	if d == nil || !d.Valid || d.Time.IsZero() {
		return trip.PositionSample{}, &LocationError{Code: CodePositionUnavailable}
	}
	s := trip.PositionSample{
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		Timestamp: d.Time.UnixMilli(),
		Accuracy:  d.HDOP * uereMeters,
	}
	if err := s.Validate(); err != nil {
		return trip.PositionSample{}, &LocationError{Code: CodePositionUnavailable, Err: err}
	}
	return s, nil
}

// Permission is the outcome of a location permission request.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionPrompt  Permission = "prompt"
	PermissionDenied  Permission = "denied"
)

// Allowed reports whether tracking may start. A pending prompt counts as allowed.
func (p Permission) Allowed() bool {
	return p == PermissionGranted || p == PermissionPrompt
}

// WatchOptions tune a location watch.
type WatchOptions struct {
	HighAccuracy bool          `yaml:"high_accuracy" json:"highAccuracy"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`         // no fresh fix for this long reports ErrTimeout
	MaximumAge   time.Duration `yaml:"maximum_age" json:"maximumAge"` // 0 accepts fixes of any age
}

// DefaultWatchOptions returns high accuracy, 5s timeout, no age limit.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{HighAccuracy: true, Timeout: 5 * time.Second}
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWatchOptions().Timeout
	}
	return o
}

// Subscription is a running watch. Cancel is idempotent and does not block.
type Subscription interface {
	Cancel()
}

// LocationSource pushes position samples to a watcher.
type LocationSource interface {
	Name() string
	RequestPermission(ctx context.Context) (Permission, error)
	Watch(opts WatchOptions, onSample func(trip.PositionSample), onError func(error)) (Subscription, error)
}

var (
	ErrPermissionDenied      = errors.New("gps: location permission denied")
	ErrPositionUnavailable   = errors.New("gps: position unavailable")
	ErrTimeout               = errors.New("gps: location request timed out")
	ErrPermissionUnsupported = errors.New("gps: permission query not supported")
)

// ErrorCode mirrors the geolocation error codes.
type ErrorCode int

const (
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	}
	return "unknown"
}

func (c ErrorCode) sentinel() error {
	switch c {
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodeTimeout:
		return ErrTimeout
	}
	return ErrPositionUnavailable
}

// LocationError is reported through a watch's error callback.
type LocationError struct {
	Code ErrorCode
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return e.Code.sentinel().Error()
	}
	return e.Code.sentinel().Error() + ": " + e.Err.Error()
}

func (e *LocationError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's code.
func (e *LocationError) Is(target error) bool {
	return target == e.Code.sentinel()
}

// CodeOf extracts the error code from err, defaulting to position unavailable.
func CodeOf(err error) ErrorCode {
	var le *LocationError
	if errors.As(err, &le) {
		return le.Code
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	}
	return CodePositionUnavailable
}
