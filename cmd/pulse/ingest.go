// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPulse/cmd/pulse/config"
	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/pkg/validation"
)

// followDebounce coalesces the burst of events one save produces.
const followDebounce = 500 * time.Millisecond

func runIngest(cmd *cobra.Command, args []string) error {
	identifier := args[0]
	if err := validation.ValidateIdentifier(identifier); err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	follow, _ := cmd.Flags().GetBool("follow")

	if token == "" {
		if cfg, err := config.Load(configPath); err == nil {
			token = cfg.Auth.SecretKey
		}
	}
	client, err := newAPIClient(server, token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	upload := func() error {
		result, err := client.UploadCSV(ctx, identifier, file)
		if err != nil {
			return err
		}
		printIngestResult(out, identifier, result)
		return nil
	}

	err = upload()
	if !follow {
		return err
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "upload failed: %v\n", err)
	}

	fmt.Fprintf(out, "watching %s for changes (ctrl-c to stop)\n", file)
	logger := logging.New(logging.Config{Level: logging.LevelWarn, Output: cmd.ErrOrStderr()})
	return followFile(ctx, file, followDebounce, upload, logger)
}

func printIngestResult(w io.Writer, identifier string, result map[string]any) {
	status, _ := result["status"].(string)
	msg, _ := result["message"].(string)
	fmt.Fprintf(w, "%s  %s  %s\n", identifier, status, msg)
}

// followFile calls onChange after path is written or recreated, once per
// burst of events within debounce. The parent directory is watched so
// editors that save by rename are still seen. onChange errors are logged
// and following continues. Returns nil when ctx ends.
func followFile(ctx context.Context, path string, debounce time.Duration, onChange func() error, logger *logging.Logger) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := onChange(); err != nil {
				logger.Warn("re-upload failed", "file", path, "error", err)
			}
		}
	}
}
