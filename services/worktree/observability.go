// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const worktreeTracerName = "skein.worktree"

// Tracer provides OpenTelemetry tracing for worktree lifecycle operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with operation-specific span creation and
// attribute management. When disabled, returns noop spans for zero overhead.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new worktree tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
//
// # Outputs
//
//   - *Tracer: Ready-to-use tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(worktreeTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartProvision starts a span for a provision operation.
func (t *Tracer) StartProvision(ctx context.Context, repoPath, branchName string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "worktree.provision",
		trace.WithAttributes(
			attribute.String("worktree.repo_path", truncateForTrace(repoPath, 200)),
			attribute.String("worktree.branch", truncateForTrace(branchName, 100)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndProvision completes a provision span.
func (t *Tracer) EndProvision(span trace.Span, info *Info, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	if info != nil {
		span.SetAttributes(
			attribute.String("worktree.id", info.ID),
			attribute.String("worktree.path", truncateForTrace(info.WorktreePath, 200)),
		)
	}
}

// StartRelease starts a span for a release operation.
func (t *Tracer) StartRelease(ctx context.Context, worktreeID string, opts ReleaseOptions) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "worktree.release",
		trace.WithAttributes(
			attribute.String("worktree.id", worktreeID),
			attribute.Bool("worktree.force", opts.Force),
			attribute.Bool("worktree.delete_branch", opts.DeleteBranch),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndRelease completes a release span.
func (t *Tracer) EndRelease(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRecovery starts a span for a startup recovery pass.
func (t *Tracer) StartRecovery(ctx context.Context) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "worktree.recover",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRecovery completes a recovery span.
func (t *Tracer) EndRecovery(span trace.Span, report RecoveryReport, err error) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.Int("recovery.promoted", report.Promoted),
		attribute.Int("recovery.destroyed", report.Destroyed),
		attribute.Int("recovery.orphans", report.Orphans),
		attribute.Int("recovery.failures", report.Failures),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// truncateForTrace limits attribute length to keep span payloads bounded.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// LoggerWithTrace returns a logger carrying the active trace and span ids,
// so log lines correlate with spans in the backend.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
