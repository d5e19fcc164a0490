// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"context"
	"fmt"
	"path/filepath"

	"log/slog"
)

// Recover reconciles durable state with the filesystem after a restart.
//
// # Description
//
// Runs in two phases, strictly in this order:
//
//  1. Record reconciliation. Every record stranded mid-transition is
//     resolved: a provisioning record whose directory is a valid worktree is
//     promoted to active (the crash happened after the expensive work was
//     done); anything else mid-provision is destroyed. Releasing records are
//     always destroyed — the caller already decided the worktree should go.
//  2. Orphan sweep. Directories under BaseDir with no surviving record are
//     removed.
//
// The ordering is a correctness requirement: sweeping first would delete the
// directories of promotable provisioning records before phase 1 could
// examine them.
//
// Recovery also re-arms the activity watcher and the active gauge for every
// surviving active record. Per-item failures are logged and counted; the
// pass always continues. A non-nil error means recovery itself could not
// run, not that some item failed.
//
// # Inputs
//
//   - ctx: Context for cancellation between items.
//
// # Outputs
//
//   - *RecoveryReport: Counts of promoted, destroyed, orphaned, and failed
//     items.
//   - error: Non-nil only when the store is unavailable or the context is
//     cancelled. Filesystem problems, an unreadable base directory included,
//     are counted in Failures and the pass continues.
//
// # Thread Safety
//
// Not safe to run concurrently with Provision or Release. Call it before
// serving requests.
func (m *Manager) Recover(ctx context.Context) (report *RecoveryReport, err error) {
	ctx, span := m.tracer.StartRecovery(ctx)
	defer func() {
		var summary RecoveryReport
		if report != nil {
			summary = *report
		}
		m.tracer.EndRecovery(span, summary, err)
	}()

	logger := LoggerWithTrace(ctx, m.logger)
	logger.Info("starting recovery")

	report = &RecoveryReport{}

	// Repositories whose worktree metadata we disturbed; pruned at the end.
	touchedRepos := map[string]struct{}{}

	// --- Phase 1: record reconciliation ---

	stranded, err := m.store.ListByStatus(ctx, StatusProvisioning, StatusReleasing)
	if err != nil {
		return nil, fmt.Errorf("listing stranded records: %w", err)
	}

	for _, rec := range stranded {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		recLogger := logger.With("id", rec.ID, "status", rec.Status, "path", rec.WorktreePath)

		switch rec.Status {
		case StatusProvisioning:
			if m.isPromotable(ctx, rec) {
				if err := m.store.UpdateStatus(ctx, rec.ID, StatusActive, ""); err != nil {
					recLogger.Error("failed to promote record", "error", err)
					report.Failures++
					continue
				}
				recLogger.Info("promoted interrupted provision to active")
				report.Promoted++
				continue
			}
			if !m.destroyStranded(ctx, rec, recLogger, touchedRepos) {
				report.Failures++
				continue
			}
			recLogger.Info("destroyed incomplete provision")
			report.Destroyed++

		case StatusReleasing:
			if !m.destroyStranded(ctx, rec, recLogger, touchedRepos) {
				report.Failures++
				continue
			}
			recLogger.Info("finished interrupted release")
			report.Destroyed++
		}
	}

	// --- Phase 2: orphan sweep ---
	// Only runs after every record had its chance to claim a directory.

	report.Orphans, report.Failures = m.sweepOrphans(ctx, logger, report.Failures)

	for repo := range touchedRepos {
		if pruneErr := m.git.PruneWorktrees(ctx, repo); pruneErr != nil {
			logger.Warn("worktree prune failed", "repo", repo, "error", pruneErr)
		}
	}

	// Re-arm runtime state for the survivors.
	if armErr := m.rearmActive(ctx, logger); armErr != nil {
		return nil, armErr
	}

	recordRecovery(ctx, *report)
	logger.Info("recovery complete",
		"promoted", report.Promoted,
		"destroyed", report.Destroyed,
		"orphans", report.Orphans,
		"failures", report.Failures)
	return report, nil
}

// isPromotable reports whether a provisioning record's directory is a real,
// git-valid working copy.
func (m *Manager) isPromotable(ctx context.Context, rec *Record) bool {
	if rec.WorktreePath == "" {
		return false
	}
	if !m.fs.Exists(rec.WorktreePath) {
		return false
	}
	return m.git.IsRepository(ctx, rec.WorktreePath)
}

// destroyStranded force-removes a stranded record's worktree (detach first,
// raw directory removal as fallback) and deletes the record. Returns false
// if the record could not be fully destroyed.
func (m *Manager) destroyStranded(ctx context.Context, rec *Record, logger *slog.Logger, touchedRepos map[string]struct{}) bool {
	if rec.WorktreePath != "" {
		if detachErr := m.git.RemoveWorktree(ctx, rec.RepoPath, rec.WorktreePath, true); detachErr != nil {
			logger.Debug("git detach failed, removing directory directly", "error", detachErr)
			if rmErr := m.fs.RemoveAll(rec.WorktreePath); rmErr != nil {
				logger.Error("failed to remove worktree directory", "error", rmErr)
				return false
			}
		}
		touchedRepos[rec.RepoPath] = struct{}{}
	}

	if err := m.store.Delete(ctx, rec.ID); err != nil {
		logger.Error("failed to delete record", "error", err)
		return false
	}
	return true
}

// sweepOrphans removes directories under BaseDir that no record references.
// Returns the orphan count and the updated failure count.
func (m *Manager) sweepOrphans(ctx context.Context, logger *slog.Logger, failures int) (int, int) {
	entries, err := m.fs.ReadDir(m.config.BaseDir)
	if err != nil {
		logger.Error("failed to read base directory", "dir", m.config.BaseDir, "error", err)
		return 0, failures + 1
	}

	recs, err := m.store.List(ctx, "")
	if err != nil {
		logger.Error("failed to list records for sweep", "error", err)
		return 0, failures + 1
	}

	claimed := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if rec.WorktreePath != "" {
			claimed[filepath.Clean(rec.WorktreePath)] = struct{}{}
		}
	}

	orphans := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.config.BaseDir, entry.Name())
		if _, ok := claimed[path]; ok {
			continue
		}

		if err := m.fs.RemoveAll(path); err != nil {
			logger.Error("failed to remove orphaned directory", "path", path, "error", err)
			failures++
			continue
		}
		logger.Info("removed orphaned worktree directory", "path", path)
		orphans++
	}
	return orphans, failures
}

// rearmActive re-registers activity watches and the active gauge for every
// active record. Process-local state does not survive a restart; this
// rebuilds it from the store.
func (m *Manager) rearmActive(ctx context.Context, logger *slog.Logger) error {
	active, err := m.store.ListByStatus(ctx, StatusActive)
	if err != nil {
		return fmt.Errorf("listing active records: %w", err)
	}
	for _, rec := range active {
		incActive(ctx)
		m.watchActivity(rec)
	}
	logger.Debug("re-armed active worktrees", "count", len(active))
	return nil
}
