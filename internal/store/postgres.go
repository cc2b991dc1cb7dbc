package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx used here. *pgxpool.Pool and pgxmock pools
// both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore writes trips to the remote trips table.
type PostgresStore struct {
	db   Querier
	auth Authenticator
}

// NewPostgres creates a store over db. auth decides who is signed in.
func NewPostgres(db Querier, auth Authenticator) *PostgresStore {
	return &PostgresStore{db: db, auth: auth}
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	log.Printf("[store] connected to postgres")
	return pool, nil
}

func (p *PostgresStore) CurrentUser(ctx context.Context) (*User, error) {
	if p.auth == nil {
		return nil, nil
	}
	return p.auth.CurrentUser(ctx)
}

const insertTripSQL = `
	INSERT INTO trips (
		user_id, origin_name, origin_lat, origin_lng,
		destination_name, destination_lat, destination_lng,
		start_time, end_time, distance, duration, mode,
		purpose, companion, is_auto_detected, is_confirmed
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	RETURNING id`

func (p *PostgresStore) InsertTrip(ctx context.Context, userID string, rec TripRecord) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	var id string
	err := p.db.QueryRow(ctx, insertTripSQL,
		userID, rec.OriginName, rec.OriginLat, rec.OriginLng,
		rec.DestinationName, rec.DestinationLat, rec.DestinationLng,
		rec.StartTime, rec.EndTime, rec.Distance, rec.Duration, string(rec.Mode),
		string(rec.Purpose), string(rec.Companion), rec.IsAutoDetected, rec.IsConfirmed,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("store: insert trip: %w", err)
	}
	log.Printf("[store] trip %s saved for %s (%.2f km, %s)", id, userID, rec.Distance, rec.Mode)
	return nil
}
