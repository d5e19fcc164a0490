// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/services/worktree"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := NewRecordStore(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id, branch string) *worktree.Record {
	now := time.Unix(1700000000, 0).UTC()
	return &worktree.Record{
		ID:             id,
		RepoPath:       "/home/dev/repo",
		WorktreePath:   "/srv/worktrees/" + branch + "-1700000000",
		BranchName:     branch,
		Status:         worktree.StatusProvisioning,
		AgentID:        "sess-42",
		ProvisionedAt:  now,
		LastActivityAt: now,
	}
}

func TestRecordStore_InsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("wt-1", "fix-1")
	require.NoError(t, store.Insert(ctx, rec))

	byID, err := store.GetByID(ctx, "wt-1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, rec, byID)

	byPair, err := store.GetByRepoBranch(ctx, rec.RepoPath, rec.BranchName)
	require.NoError(t, err)
	require.NotNil(t, byPair)
	assert.Equal(t, rec.ID, byPair.ID)

	byPath, err := store.GetByPath(ctx, rec.WorktreePath)
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, rec.ID, byPath.ID)
}

func TestRecordStore_MissLookupsReturnNilNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	byID, err := store.GetByID(ctx, "wt-nope")
	require.NoError(t, err)
	assert.Nil(t, byID)

	byPair, err := store.GetByRepoBranch(ctx, "/nowhere", "none")
	require.NoError(t, err)
	assert.Nil(t, byPair)

	byPath, err := store.GetByPath(ctx, "/nowhere/wt")
	require.NoError(t, err)
	assert.Nil(t, byPath)
}

func TestRecordStore_InsertRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testRecord("wt-1", "fix-1")))

	// Same id.
	err := store.Insert(ctx, testRecord("wt-1", "fix-other"))
	require.Error(t, err)
	assert.ErrorIs(t, err, worktree.ErrRecordExists)

	// Same (repo, branch) pair under a different id.
	err = store.Insert(ctx, testRecord("wt-2", "fix-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, worktree.ErrRecordExists)
}

func TestRecordStore_UpdateMovesPathIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("wt-1", "fix-1")
	rec.WorktreePath = ""
	require.NoError(t, store.Insert(ctx, rec))

	// Path is computed mid-provision and written back.
	rec.WorktreePath = "/srv/worktrees/fix-1-1700000000"
	require.NoError(t, store.Update(ctx, rec))

	byPath, err := store.GetByPath(ctx, rec.WorktreePath)
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "wt-1", byPath.ID)

	// Moving the path retires the old index entry.
	oldPath := rec.WorktreePath
	rec.WorktreePath = "/srv/worktrees/fix-1-relocated"
	require.NoError(t, store.Update(ctx, rec))

	stale, err := store.GetByPath(ctx, oldPath)
	require.NoError(t, err)
	assert.Nil(t, stale)

	fresh, err := store.GetByPath(ctx, rec.WorktreePath)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "wt-1", fresh.ID)
}

func TestRecordStore_UpdateRejectsTakenPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testRecord("wt-1", "feat/a")
	first.Status = worktree.StatusActive
	require.NoError(t, store.Insert(ctx, first))

	// Sanitized branch names can collide ("feat/a" vs "feat-a"), so a second
	// record may legitimately compute the same path.
	second := testRecord("wt-2", "feat-a")
	second.WorktreePath = ""
	require.NoError(t, store.Insert(ctx, second))

	second.WorktreePath = first.WorktreePath
	err := store.Update(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, worktree.ErrRecordExists)

	// The owner keeps its index.
	byPath, err := store.GetByPath(ctx, first.WorktreePath)
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "wt-1", byPath.ID)

	// Deleting the rejected record must not take the owner's index with it.
	require.NoError(t, store.Delete(ctx, "wt-2"))

	byPath, err = store.GetByPath(ctx, first.WorktreePath)
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "wt-1", byPath.ID)
}

func TestRecordStore_UpdateUnknownID(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(context.Background(), testRecord("wt-ghost", "fix-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, worktree.ErrWorktreeNotFound)
}

func TestRecordStore_UpdateStatusErrorMessageLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("wt-1", "fix-1")
	require.NoError(t, store.Insert(ctx, rec))

	// Error transition keeps the message.
	require.NoError(t, store.UpdateStatus(ctx, "wt-1", worktree.StatusError, "git exploded"))
	got, err := store.GetByID(ctx, "wt-1")
	require.NoError(t, err)
	assert.Equal(t, worktree.StatusError, got.Status)
	assert.Equal(t, "git exploded", got.ErrorMessage)

	// Any other transition clears it, even if a message is passed.
	require.NoError(t, store.UpdateStatus(ctx, "wt-1", worktree.StatusActive, "ignored"))
	got, err = store.GetByID(ctx, "wt-1")
	require.NoError(t, err)
	assert.Equal(t, worktree.StatusActive, got.Status)
	assert.Empty(t, got.ErrorMessage, "ErrorMessage must not outlive the error state")
}

func TestRecordStore_Touch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("wt-1", "fix-1")
	require.NoError(t, store.Insert(ctx, rec))

	later := rec.LastActivityAt.Add(5 * time.Minute)
	require.NoError(t, store.Touch(ctx, "wt-1", later))

	got, err := store.GetByID(ctx, "wt-1")
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(later))
}

func TestRecordStore_ListAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testRecord("wt-1", "fix-1")
	b := testRecord("wt-2", "fix-2")
	b.Status = worktree.StatusActive
	c := testRecord("wt-3", "fix-3")
	c.RepoPath = "/home/dev/other"
	c.Status = worktree.StatusReleasing

	for _, rec := range []*worktree.Record{a, b, c} {
		require.NoError(t, store.Insert(ctx, rec))
	}

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := store.List(ctx, "/home/dev/repo")
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	stranded, err := store.ListByStatus(ctx, worktree.StatusProvisioning, worktree.StatusReleasing)
	require.NoError(t, err)
	require.Len(t, stranded, 2)
	ids := []string{stranded[0].ID, stranded[1].ID}
	assert.ElementsMatch(t, []string{"wt-1", "wt-3"}, ids)
}

func TestRecordStore_DeleteRemovesIndices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("wt-1", "fix-1")
	require.NoError(t, store.Insert(ctx, rec))
	require.NoError(t, store.Delete(ctx, "wt-1"))

	byID, err := store.GetByID(ctx, "wt-1")
	require.NoError(t, err)
	assert.Nil(t, byID)

	byPair, err := store.GetByRepoBranch(ctx, rec.RepoPath, rec.BranchName)
	require.NoError(t, err)
	assert.Nil(t, byPair)

	byPath, err := store.GetByPath(ctx, rec.WorktreePath)
	require.NoError(t, err)
	assert.Nil(t, byPath)

	// The pair is free again.
	require.NoError(t, store.Insert(ctx, testRecord("wt-2", "fix-1")))
}

func TestRecordStore_DeleteUnknownIsNoop(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Delete(context.Background(), "wt-ghost"))
}

func TestRecordStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	store, err := NewRecordStore(cfg)
	require.NoError(t, err)

	rec := testRecord("wt-1", "fix-1")
	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, store.Close())

	reopened, err := NewRecordStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByID(context.Background(), "wt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, got)
}

func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.Error(t, err)
}
