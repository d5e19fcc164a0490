// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/skeinworks/skein/services/worktree"
	"github.com/skeinworks/skein/services/worktree/api"
	storebadger "github.com/skeinworks/skein/services/worktree/storage/badger"
)

var (
	servePort          int
	serveBaseDir       string
	serveDBPath        string
	serveGitTimeout    time.Duration
	serveTrackActivity bool
	serveDebug         bool
	serveNoMetrics     bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the worktree lifecycle daemon",
		Long: `Starts the Skein daemon.

Recovery runs before the listener binds: records stranded mid-transition by
an unclean shutdown are reconciled against the filesystem, then orphaned
worktree directories are swept. No request is served against unreconciled
state.

Examples:
  skein serve                          # defaults under ~/.skein
  skein serve --port 9090 --debug
  skein serve --base-dir /srv/worktrees --db-path /srv/skein-db`,
		RunE: runServeCommand,
	}
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080,
		"Port to listen on")
	serveCmd.Flags().StringVar(&serveBaseDir, "base-dir", "",
		"Directory worktrees are provisioned under (default ~/.skein/worktrees)")
	serveCmd.Flags().StringVar(&serveDBPath, "db-path", "",
		"Directory for the record database (default ~/.skein/db)")
	serveCmd.Flags().DurationVar(&serveGitTimeout, "git-timeout", 30*time.Second,
		"Upper bound on any single git invocation")
	serveCmd.Flags().BoolVar(&serveTrackActivity, "track-activity", true,
		"Track filesystem activity inside worktrees")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Enable debug mode (verbose gin logging)")
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false,
		"Disable the Prometheus /metrics endpoint")

	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	logger := newLogger("skein-daemon")
	defer logger.Close()
	slogger := logger.Slog()

	baseDir := serveBaseDir
	if baseDir == "" {
		baseDir = filepath.Join(defaultDataDir(), "worktrees")
	}
	dbPath := serveDBPath
	if dbPath == "" {
		dbPath = filepath.Join(defaultDataDir(), "db")
	}

	if !serveNoMetrics {
		if err := initMetricsProvider(); err != nil {
			slogger.Warn("metrics exporter unavailable, continuing without", "error", err)
			serveNoMetrics = true
		}
	}

	storeCfg := storebadger.DefaultConfig()
	storeCfg.Path = dbPath
	storeCfg.Logger = slogger.With("component", "badger")

	store, err := storebadger.NewRecordStore(storeCfg)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer store.Close()

	mgrCfg := worktree.DefaultConfig()
	mgrCfg.BaseDir = baseDir
	mgrCfg.GitTimeout = serveGitTimeout
	mgrCfg.TrackActivity = serveTrackActivity
	mgrCfg.MetricsEnabled = !serveNoMetrics
	mgrCfg.Logger = slogger

	mgr, err := worktree.NewManager(mgrCfg, store)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recovery must finish before any request can race it.
	report, err := mgr.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	slogger.Info("recovery complete",
		"promoted", report.Promoted,
		"destroyed", report.Destroyed,
		"orphans", report.Orphans,
		"failures", report.Failures)

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("skein-daemon"))

	v1 := router.Group("/v1")
	api.RegisterRoutes(v1, api.NewHandlers(mgr, slogger))

	if !serveNoMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slogger.Info("starting daemon",
			"address", srv.Addr,
			"base_dir", mgr.BaseDir(),
			"db_path", dbPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slogger.Info("shutting down daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slogger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	return nil
}

// initMetricsProvider registers an OTel meter provider backed by the
// default Prometheus registry, so promhttp.Handler() serves our metrics.
func initMetricsProvider() error {
	exporter, err := promexporter.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))
	return nil
}
