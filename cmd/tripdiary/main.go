package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/tripdiary/internal/server"
)

const (
	Version = "0.1.0"
	appName = "tripdiary"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Automatic trip diary",
		Long: `tripdiary watches a location source, detects trips from movement and
stillness, classifies the transport mode by average speed and saves each trip
to the trips table, queueing it locally while offline or signed out.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", server.DefaultConfigPath, "Path to config file")

	cmd.AddCommand(
		serveCmd(&configPath),
		syncCmd(&configPath),
		replayCmd(&configPath),
		tokenCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}
