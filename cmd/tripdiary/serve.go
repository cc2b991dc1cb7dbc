package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/tripdiary/internal/detector"
	"github.com/shaunagostinho/tripdiary/internal/events"
	"github.com/shaunagostinho/tripdiary/internal/logger"
	"github.com/shaunagostinho/tripdiary/internal/server"
	"github.com/shaunagostinho/tripdiary/internal/stats"
)

func serveCmd(configPath *string) *cobra.Command {
	var (
		demo       bool
		listenAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Track location, detect trips and serve the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.LoadConfig(*configPath)
			if demo {
				cfg.GPS.Type = "demo"
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "Run with a simulated GPS")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	return cmd
}

func serve(parent context.Context, cfg *server.Config) error {
	log.Printf("[main] %s %s starting", appName, Version)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSrc := openSource(ctx, cfg)
	defer closeSrc()

	remote, closeRemote, err := openRemote(ctx, cfg)
	if err != nil {
		// Trips still queue locally; the next sync picks them up.
		log.Printf("[main] remote store unavailable: %v", err)
	}
	defer closeRemote()

	queue, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	det := detector.New(src, remote, queue,
		detector.WithThresholds(cfg.Detection.Thresholds),
		detector.WithWatchOptions(cfg.GPS.Watch),
	)

	statsPath := cfg.Stats.Path
	if statsPath == "" {
		statsPath = stats.DefaultPath(cfg.Path())
	}
	tracker := stats.NewTracker(statsPath)
	recorder := logger.New(cfg.Logging)

	var fwd *events.Forwarder
	pub, err := openPublisher(cfg)
	switch {
	case err != nil:
		log.Printf("[main] trip events disabled: %v", err)
	case pub != nil:
		fwd = events.Forward(det, pub, cfg.Events.Buffer)
	}

	srv := server.New(cfg, det, tracker, recorder)

	if cfg.Detection.SyncOnStart {
		syncOnce(ctx, det)
	}
	if cfg.Detection.AutoStart {
		if err := srv.StartTracking(ctx); err != nil {
			log.Printf("[main] auto-start failed: %v", err)
		}
	}

	runErr := srv.Run(ctx)

	det.StopTracking()
	det.Wait()
	if fwd != nil {
		if err := fwd.Close(); err != nil {
			log.Printf("[main] close events: %v", err)
		}
	}
	log.Printf("[main] stopped")
	return runErr
}

func syncOnce(ctx context.Context, det *detector.TripDetector) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	res, err := det.SyncPendingTrips(ctx)
	switch {
	case err != nil:
		log.Printf("[main] sync pending trips: %v", err)
	case res.Unauthenticated:
		log.Printf("[main] sync skipped: not signed in")
	default:
		log.Printf("[main] synced %d pending trips, %d left", res.Synced, res.Failed)
	}
}
