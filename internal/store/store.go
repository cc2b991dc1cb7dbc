// Package store persists detected trips: a remote table keyed by the signed-in
// user, and local pending queues holding trips that could not be sent yet.
package store

import (
	"context"
	"errors"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

var (
	ErrUnauthenticated = errors.New("store: no signed-in user")
	ErrInvalidToken    = errors.New("store: invalid access token")
)

// User is the signed-in account trips are written for.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Authenticator resolves the current user. A nil user with a nil error means
// nobody is signed in.
type Authenticator interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// RemoteStore is where trips end up when a user is signed in.
type RemoteStore interface {
	Authenticator
	InsertTrip(ctx context.Context, userID string, rec TripRecord) error
}

// PendingQueue is a durable FIFO of trips waiting for a remote insert.
type PendingQueue interface {
	Append(ctx context.Context, t trip.DetectedTrip) error
	ReadAll(ctx context.Context) ([]trip.DetectedTrip, error)
	// Replace overwrites the queue with trips, in order.
	Replace(ctx context.Context, trips []trip.DetectedTrip) error
	Clear(ctx context.Context) error
}
