// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skeinworks/skein/pkg/logging"
)

var (
	logLevel string
	logDir   string
	logJSON  bool
	quiet    bool

	rootCmd = &cobra.Command{
		Use:   "skein",
		Short: "Manage isolated git worktrees for concurrent agent sessions",
		Long: `Skein provisions and tears down isolated git worktrees so concurrent
coding-agent sessions never collide on a working copy. Run the daemon with
"skein serve", then use the worktree verbs against it.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Directory for JSON log files (disabled when empty)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"Format stderr logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Disable stderr logging")
}

// newLogger builds the process logger from the persistent flags.
func newLogger(service string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: service,
		JSON:    logJSON,
		Quiet:   quiet,
	})
}

// defaultDataDir is the root for Skein state when flags don't override it.
func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".skein")
	}
	return ".skein"
}
