package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/tripdiary/internal/detector"
	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/server"
	"github.com/shaunagostinho/tripdiary/internal/store"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

func syncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload queued trips to the trips table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := server.LoadConfig(*configPath)

			remote, closeRemote, err := openRemote(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeRemote()
			queue, closeQueue, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeQueue()

			det := detector.New(nil, remote, queue)
			res, err := det.SyncPendingTrips(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Unauthenticated {
				fmt.Fprintln(out, "not signed in; run `tripdiary token` first")
				return nil
			}
			fmt.Fprintf(out, "synced %d trips, %d still pending\n", res.Synced, res.Failed)
			return nil
		},
	}
}

func replayCmd(configPath *string) *cobra.Command {
	var (
		speed float64
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "replay <samples.csv>",
		Short: "Run trip detection over a recorded sample log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := server.LoadConfig(*configPath)

			src, err := gps.OpenReplay(args[0], speed)
			if err != nil {
				return err
			}

			var (
				remote store.RemoteStore
				queue  store.PendingQueue
			)
			if save {
				var closeRemote, closeQueue cleanup
				if remote, closeRemote, err = openRemote(ctx, cfg); err != nil {
					return err
				}
				defer closeRemote()
				if queue, closeQueue, err = openQueue(ctx, cfg); err != nil {
					return err
				}
				defer closeQueue()
			} else {
				dir, err := os.MkdirTemp("", "tripdiary-replay-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				queue = store.NewFileQueue(dir + "/pending.json")
			}

			det := detector.New(src, remote, queue,
				detector.WithThresholds(cfg.Detection.Thresholds),
				detector.WithWatchOptions(cfg.GPS.Watch),
			)
			out := cmd.OutOrStdout()
			n := 0
			det.OnTripDetected(func(t trip.DetectedTrip) {
				n++
				fmt.Fprintf(out, "%d. %s  %s -> %s  %.2f km  %d min  %s\n",
					n, t.StartTime.Local().Format("2006-01-02"),
					t.StartTime.Local().Format("15:04"), t.EndTime.Local().Format("15:04"),
					t.Distance, t.DurationMinutes(), t.Mode)
			})

			if err := det.StartTracking(ctx); err != nil {
				return err
			}
			select {
			case <-src.Done():
			case <-ctx.Done():
			}
			det.StopTracking()
			det.Wait()

			fmt.Fprintf(out, "%d samples, %d trips\n", src.Len(), n)
			return nil
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 0, "Playback speed multiplier (0 replays as fast as possible)")
	cmd.Flags().BoolVar(&save, "save", false, "Save detected trips through the configured store and queue")
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	var (
		email     string
		ttl       time.Duration
		printOnly bool
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token and sign this device in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.LoadConfig(*configPath)
			if cfg.Remote.JWTSecret == "" {
				return errors.New("remote.jwt_secret (or JWT_SECRET) is not set")
			}
			tok, err := store.IssueToken(cfg.Remote.JWTSecret, args[0], email, ttl)
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			}
			if err := store.SaveToken(cfg.Remote.AccessTokenFile, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s, token written to %s\n", args[0], cfg.Remote.AccessTokenFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the token instead of writing the token file")
	return cmd
}
