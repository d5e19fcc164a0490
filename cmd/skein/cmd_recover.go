// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/skeinworks/skein/services/worktree"
	storebadger "github.com/skeinworks/skein/services/worktree/storage/badger"
)

var (
	recoverBaseDir string
	recoverDBPath  string
	recoverTimeout time.Duration

	recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Reconcile records and sweep orphans without starting the daemon",
		Long: `Runs the recovery pass against the record store and base directory.

The daemon runs this automatically on startup; use this command to
reconcile state while the daemon is stopped. It takes the same exclusive
database lock as the daemon, so it refuses to run alongside one.`,
		RunE: runRecoverCommand,
	}
)

func init() {
	recoverCmd.Flags().StringVar(&recoverBaseDir, "base-dir", "",
		"Directory worktrees are provisioned under (default ~/.skein/worktrees)")
	recoverCmd.Flags().StringVar(&recoverDBPath, "db-path", "",
		"Directory for the record database (default ~/.skein/db)")
	recoverCmd.Flags().DurationVar(&recoverTimeout, "timeout", 10*time.Minute,
		"Upper bound on the whole recovery pass")

	rootCmd.AddCommand(recoverCmd)
}

func runRecoverCommand(cmd *cobra.Command, args []string) error {
	logger := newLogger("skein-recover")
	defer logger.Close()

	baseDir := recoverBaseDir
	if baseDir == "" {
		baseDir = filepath.Join(defaultDataDir(), "worktrees")
	}
	dbPath := recoverDBPath
	if dbPath == "" {
		dbPath = filepath.Join(defaultDataDir(), "db")
	}

	storeCfg := storebadger.DefaultConfig()
	storeCfg.Path = dbPath
	storeCfg.GCInterval = 0

	store, err := storebadger.NewRecordStore(storeCfg)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer store.Close()

	mgrCfg := worktree.DefaultConfig()
	mgrCfg.BaseDir = baseDir
	mgrCfg.MetricsEnabled = false
	mgrCfg.Logger = logger.Slog()

	mgr, err := worktree.NewManager(mgrCfg, store)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), recoverTimeout)
	defer cancel()

	report, err := mgr.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	fmt.Printf("Recovery complete:\n")
	fmt.Printf("  Promoted:  %d\n", report.Promoted)
	fmt.Printf("  Destroyed: %d\n", report.Destroyed)
	fmt.Printf("  Orphans:   %d\n", report.Orphans)
	fmt.Printf("  Failures:  %d\n", report.Failures)
	return nil
}
