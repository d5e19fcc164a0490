// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for worktree lifecycle metrics.
var meter = otel.Meter("skein.worktree")

// Metric instruments for lifecycle operations.
var (
	provisionTotal    metric.Int64Counter
	releaseTotal      metric.Int64Counter
	provisionDuration metric.Float64Histogram
	releaseDuration   metric.Float64Histogram
	activeGauge       metric.Int64UpDownCounter
	recoveryPromoted  metric.Int64Counter
	recoveryDestroyed metric.Int64Counter
	recoveryOrphans   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		provisionTotal, err = meter.Int64Counter(
			"worktree_provision_total",
			metric.WithDescription("Total number of worktree provision operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		releaseTotal, err = meter.Int64Counter(
			"worktree_release_total",
			metric.WithDescription("Total number of worktree release operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		provisionDuration, err = meter.Float64Histogram(
			"worktree_provision_duration_seconds",
			metric.WithDescription("Duration of worktree provision operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		releaseDuration, err = meter.Float64Histogram(
			"worktree_release_duration_seconds",
			metric.WithDescription("Duration of worktree release operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeGauge, err = meter.Int64UpDownCounter(
			"worktree_active",
			metric.WithDescription("Number of currently active worktrees"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recoveryPromoted, err = meter.Int64Counter(
			"worktree_recovery_promoted_total",
			metric.WithDescription("Provisioning records promoted to active during recovery"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recoveryDestroyed, err = meter.Int64Counter(
			"worktree_recovery_destroyed_total",
			metric.WithDescription("Records force-cleaned and deleted during recovery"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recoveryOrphans, err = meter.Int64Counter(
			"worktree_recovery_orphans_total",
			metric.WithDescription("Orphaned directories removed during recovery"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// resultAttr labels an operation outcome.
func resultAttr(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("result", "success")
	}
	return attribute.String("result", "failure")
}

func recordProvision(ctx context.Context, d time.Duration, ok bool) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	provisionTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(ok)))
	provisionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(resultAttr(ok)))
}

func recordRelease(ctx context.Context, d time.Duration, ok bool) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	releaseTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(ok)))
	releaseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(resultAttr(ok)))
}

func incActive(ctx context.Context) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	activeGauge.Add(ctx, 1)
}

func decActive(ctx context.Context) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	activeGauge.Add(ctx, -1)
}

func recordRecovery(ctx context.Context, report RecoveryReport) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	recoveryPromoted.Add(ctx, int64(report.Promoted))
	recoveryDestroyed.Add(ctx, int64(report.Destroyed))
	recoveryOrphans.Add(ctx, int64(report.Orphans))
}
