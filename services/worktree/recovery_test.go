// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedStranded inserts a record in a mid-transition state, as an unclean
// shutdown would leave it.
func (f *fixture) seedStranded(t *testing.T, id, branch string, status Status, withPath bool) *Record {
	t.Helper()
	rec := &Record{
		ID:             id,
		RepoPath:       testRepo,
		BranchName:     branch,
		Status:         status,
		ProvisionedAt:  testNow,
		LastActivityAt: testNow,
	}
	if withPath {
		rec.WorktreePath = filepath.Join(testBase, branch+"-1700000000")
	}
	require.NoError(t, f.store.Insert(context.Background(), rec))
	return rec
}

func TestRecover_PromotesCompleteProvision(t *testing.T) {
	f := newFixture(t)
	rec := f.seedStranded(t, "wt-1", "fix-1", StatusProvisioning, true)

	// The directory exists and is a valid worktree: the crash happened
	// after the expensive work was done.
	f.fs.MkdirAll(rec.WorktreePath)

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 0, report.Destroyed)
	assert.Equal(t, 0, report.Failures)

	stored := f.store.get(rec.ID)
	require.NotNil(t, stored)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestRecover_DestroysProvisionWithoutDirectory(t *testing.T) {
	f := newFixture(t)
	rec := f.seedStranded(t, "wt-1", "fix-1", StatusProvisioning, true)
	// Directory never materialized on disk.

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Promoted)
	assert.Equal(t, 1, report.Destroyed)
	assert.Nil(t, f.store.get(rec.ID))
}

func TestRecover_DestroysProvisionWithInvalidDirectory(t *testing.T) {
	f := newFixture(t)
	rec := f.seedStranded(t, "wt-1", "fix-1", StatusProvisioning, true)

	// Directory exists but git does not recognize it: half-written.
	f.fs.MkdirAll(rec.WorktreePath)
	f.git.notRepos[rec.WorktreePath] = true

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Destroyed)
	assert.Nil(t, f.store.get(rec.ID))
	require.Len(t, f.git.removeCalls, 1)
	assert.True(t, f.git.removeCalls[0].force, "recovery cleanup is always forced")
}

func TestRecover_DestroysProvisionWithoutPath(t *testing.T) {
	f := newFixture(t)
	rec := f.seedStranded(t, "wt-1", "fix-1", StatusProvisioning, false)

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Destroyed)
	assert.Nil(t, f.store.get(rec.ID))
	assert.Empty(t, f.git.removeCalls, "no path, nothing to detach")
}

func TestRecover_FinishesInterruptedRelease(t *testing.T) {
	f := newFixture(t)
	rec := f.seedStranded(t, "wt-1", "fix-1", StatusReleasing, true)
	f.fs.MkdirAll(rec.WorktreePath)

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	// A releasing record is always destroyed: the caller already decided
	// the worktree should go.
	assert.Equal(t, 1, report.Destroyed)
	assert.Nil(t, f.store.get(rec.ID))
	require.Len(t, f.git.removeCalls, 1)
	assert.Equal(t, rec.WorktreePath, f.git.removeCalls[0].path)
}

func TestRecover_SweepsOrphanedDirectories(t *testing.T) {
	f := newFixture(t)
	claimed := f.seedActive(t, "wt-1", "fix-1")

	f.fs.entries = []os.DirEntry{
		fakeDirEntry{name: filepath.Base(claimed.WorktreePath), dir: true},
		fakeDirEntry{name: "orphan-123", dir: true},
		fakeDirEntry{name: "stray-file.txt", dir: false},
	}

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, []string{filepath.Join(testBase, "orphan-123")}, f.fs.removed)
}

func TestRecover_ReconciliationRunsBeforeSweep(t *testing.T) {
	f := newFixture(t)
	rec := f.seedStranded(t, "wt-1", "fix-1", StatusProvisioning, true)
	f.fs.MkdirAll(rec.WorktreePath)

	// The promotable record's directory is also visible to the sweep. If
	// the sweep ran first, it would delete a directory the record is about
	// to claim.
	f.fs.entries = []os.DirEntry{
		fakeDirEntry{name: filepath.Base(rec.WorktreePath), dir: true},
	}

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 0, report.Orphans)
	assert.Empty(t, f.fs.removed, "promoted worktree must survive the sweep")
	assert.Equal(t, StatusActive, f.store.get(rec.ID).Status)
}

func TestRecover_PerItemFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t)

	// First record's cleanup fails; the second must still be processed.
	bad := f.seedStranded(t, "wt-1", "fix-1", StatusReleasing, true)
	good := f.seedStranded(t, "wt-2", "fix-2", StatusReleasing, true)

	f.git.removeErr = errors.New("detach refused")
	f.fs.removeErr[bad.WorktreePath] = errors.New("permission denied")

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err, "per-item failures never abort the pass")

	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Destroyed)
	assert.NotNil(t, f.store.get(bad.ID), "failed record is kept for the next pass")
	assert.Nil(t, f.store.get(good.ID))
}

func TestRecover_SweepFailuresAreCounted(t *testing.T) {
	f := newFixture(t)

	orphanPath := filepath.Join(testBase, "orphan-1")
	f.fs.entries = []os.DirEntry{
		fakeDirEntry{name: "orphan-1", dir: true},
		fakeDirEntry{name: "orphan-2", dir: true},
	}
	f.fs.removeErr[orphanPath] = errors.New("busy")

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 1, report.Failures)
}

func TestRecover_ActiveRecordsUntouched(t *testing.T) {
	f := newFixture(t)
	rec := f.seedActive(t, "wt-1", "fix-1")

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Promoted)
	assert.Equal(t, 0, report.Destroyed)
	assert.Equal(t, StatusActive, f.store.get(rec.ID).Status)
}

func TestRecover_EmptyStateIsClean(t *testing.T) {
	f := newFixture(t)

	report, err := f.mgr.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RecoveryReport{}, report)
}
