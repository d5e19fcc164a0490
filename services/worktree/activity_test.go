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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityTracker_TouchesOnWrite(t *testing.T) {
	store := newMemStore()
	seeded := time.Unix(1700000000, 0)
	require.NoError(t, store.Insert(context.Background(), &Record{
		ID:             "wt-1",
		RepoPath:       testRepo,
		BranchName:     "fix-1",
		Status:         StatusActive,
		LastActivityAt: seeded,
	}))

	tracker, err := NewActivityTracker(store, slog.Default())
	require.NoError(t, err)
	defer tracker.Close()

	dir := t.TempDir()
	require.NoError(t, tracker.Watch("wt-1", dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644))

	require.Eventually(t, func() bool {
		rec := store.get("wt-1")
		return rec != nil && rec.LastActivityAt.After(seeded)
	}, 2*time.Second, 10*time.Millisecond, "write inside the worktree should bump LastActivityAt")
}

func TestActivityTracker_ThrottlesRepeatedWrites(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Insert(context.Background(), &Record{
		ID:     "wt-1",
		Status: StatusActive,
	}))

	tracker, err := NewActivityTracker(store, slog.Default())
	require.NoError(t, err)
	defer tracker.Close()

	dir := t.TempDir()
	require.NoError(t, tracker.Watch("wt-1", dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	require.Eventually(t, func() bool {
		return !store.get("wt-1").LastActivityAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	first := store.get("wt-1").LastActivityAt

	// Burst of writes inside the throttle window must not touch again.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("y"), 0644))
	}
	time.Sleep(100 * time.Millisecond)

	assert.True(t, store.get("wt-1").LastActivityAt.Equal(first),
		"touches within the throttle window must be dropped")
}

func TestActivityTracker_UnwatchStopsTouches(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Insert(context.Background(), &Record{
		ID:     "wt-1",
		Status: StatusActive,
	}))

	tracker, err := NewActivityTracker(store, slog.Default())
	require.NoError(t, err)
	defer tracker.Close()

	dir := t.TempDir()
	require.NoError(t, tracker.Watch("wt-1", dir))
	tracker.Unwatch(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)

	assert.True(t, store.get("wt-1").LastActivityAt.IsZero(),
		"events after Unwatch must be ignored")
}
