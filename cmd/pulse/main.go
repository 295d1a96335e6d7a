// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pulse runs the Pulse analytics service and talks to a running one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "pulse",
		Short: "Multi-agent telemetry analytics",
		Long: `Pulse ingests network telemetry, learns its schema, monitors KPIs,
detects issues, predicts trends and proposes optimizations.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics service",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in serve.go
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest <identifier>",
		Short: "Upload a CSV file for an identifier, optionally re-uploading on change",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest, // Defined in ingest.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Tail analytics events from a running service",
		Args:  cobra.NoArgs,
		RunE:  runWatch, // Defined in watch.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the pulse version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pulse %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.pulse/config.yaml, or $PULSE_CONFIG)")

	ingestCmd.Flags().String("file", "", "CSV file to upload (required)")
	ingestCmd.Flags().String("server", defaultServer, "service base URL")
	ingestCmd.Flags().String("token", "", "bearer token for /api (default: the configured secret key)")
	ingestCmd.Flags().Bool("follow", false, "re-upload whenever the file changes")
	_ = ingestCmd.MarkFlagRequired("file")

	watchCmd.Flags().String("server", defaultServer, "service base URL")
	watchCmd.Flags().String("agent", "", "subscribe as this agent; targeted events for other agents are skipped")
	watchCmd.Flags().StringSlice("type", nil, "only show these event types")
	watchCmd.Flags().Bool("no-color", false, "disable colour even on a terminal")

	rootCmd.AddCommand(serveCmd, ingestCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
