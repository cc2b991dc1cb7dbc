package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaunagostinho/tripdiary/internal/events"
	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/server"
	"github.com/shaunagostinho/tripdiary/internal/store"
)

// cleanup releases whatever an open* helper acquired.
type cleanup func()

func noop() {}

// openSource builds the configured location source. Serial receivers connect
// in the background so the service comes up without one.
func openSource(ctx context.Context, cfg *server.Config) (*gps.PolledSource, cleanup) {
	var prov gps.Provider
	switch cfg.GPS.Type {
	case "nmea":
		prov = gps.NewNMEA(gps.NMEAConfig{
			PortPath: cfg.GPS.PortPath,
			BaudRate: cfg.GPS.BaudRate,
		})
		go connectWithRetry(ctx, "GPS", prov, 10)
	default:
		prov = gps.NewDemo(time.Now())
	}
	interval := time.Duration(cfg.GPS.PollMs) * time.Millisecond
	return gps.NewPolledSource(prov, interval), func() { prov.Close() }
}

// openRemote connects to the trips table. It returns nil when no database is
// configured, in which case every trip is queued.
func openRemote(ctx context.Context, cfg *server.Config) (store.RemoteStore, cleanup, error) {
	if cfg.Remote.DatabaseURL == "" {
		log.Printf("[main] no database configured, trips will be queued")
		return nil, noop, nil
	}
	pool, err := store.Connect(ctx, cfg.Remote.DatabaseURL)
	if err != nil {
		return nil, noop, err
	}
	auth := store.NewTokenAuth(cfg.Remote.JWTSecret, cfg.Remote.AccessTokenFile, cfg.Remote.AccessTokenEnv)
	return store.NewPostgres(pool, auth), pool.Close, nil
}

// openQueue builds the pending trip queue.
func openQueue(ctx context.Context, cfg *server.Config) (store.PendingQueue, cleanup, error) {
	switch cfg.Queue.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("redis %s: %w", cfg.Queue.RedisAddr, err)
		}
		log.Printf("[main] pending queue: redis %s key %s", cfg.Queue.RedisAddr, cfg.Queue.RedisKey)
		return store.NewRedisQueue(client, cfg.Queue.RedisKey), func() { client.Close() }, nil
	default:
		log.Printf("[main] pending queue: %s", cfg.Queue.Path)
		return store.NewFileQueue(cfg.Queue.Path), noop, nil
	}
}

// openPublisher connects the configured broker, or returns nil when trip
// events are disabled.
func openPublisher(cfg *server.Config) (events.Publisher, error) {
	switch cfg.Events.Type {
	case "nats":
		nc, err := events.ConnectNATS(cfg.Events.NATS)
		if err != nil {
			return nil, err
		}
		log.Printf("[main] publishing trips to nats %s", nc.ConnectedUrl())
		return events.NewNATSPublisher(nc), nil
	case "amqp":
		pub, err := events.DialAMQP(cfg.Events.AMQPURL)
		if err != nil {
			return nil, err
		}
		log.Printf("[main] publishing trips to amqp exchange %s", events.Exchange)
		return pub, nil
	default:
		return nil, nil
	}
}

// connectable is satisfied by every gps.Provider.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, logs the attempt count up to
// maxAttempts then keeps retrying at the max interval.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) bool {
	return retry(ctx, name, c.Connect, maxAttempts, time.Second, 60*time.Second)
}

func retry(ctx context.Context, name string, fn func() error, maxAttempts int, delay, maxDelay time.Duration) bool {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		err := fn()
		if err == nil {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt)
			return true
		}
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
