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
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// touchThrottle bounds how often a busy worktree is written back to the
// store. Agents write files constantly; LastActivityAt only needs to be
// roughly fresh.
const touchThrottle = 30 * time.Second

// ActivityTracker bumps a worktree's LastActivityAt when files inside it
// change.
//
// # Description
//
// Watches each active worktree's root directory via fsnotify and throttles
// store writes to one per worktree per touchThrottle window. Tracking is
// advisory: a missed event or failed write degrades timestamp freshness and
// nothing else.
//
// # Thread Safety
//
// All public methods are safe for concurrent use from multiple goroutines.
type ActivityTracker struct {
	store   Store
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu        sync.Mutex
	byPath    map[string]string // worktree path -> record id
	lastTouch map[string]time.Time

	done chan struct{}
}

// NewActivityTracker creates a tracker and starts its event loop.
func NewActivityTracker(store Store, logger *slog.Logger) (*ActivityTracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	t := &ActivityTracker{
		store:     store,
		watcher:   watcher,
		logger:    logger.With("component", "worktree.ActivityTracker"),
		byPath:    make(map[string]string),
		lastTouch: make(map[string]time.Time),
		done:      make(chan struct{}),
	}

	go t.watchLoop()
	return t, nil
}

// Watch starts tracking activity under a worktree root.
func (t *ActivityTracker) Watch(worktreeID, path string) error {
	path = filepath.Clean(path)

	if err := t.watcher.Add(path); err != nil {
		return err
	}

	t.mu.Lock()
	t.byPath[path] = worktreeID
	t.mu.Unlock()
	return nil
}

// Unwatch stops tracking a worktree root.
func (t *ActivityTracker) Unwatch(path string) {
	path = filepath.Clean(path)

	// The watch may already be gone if the directory was removed.
	_ = t.watcher.Remove(path)

	t.mu.Lock()
	delete(t.byPath, path)
	delete(t.lastTouch, path)
	t.mu.Unlock()
}

// Close stops the event loop and releases the watcher.
func (t *ActivityTracker) Close() error {
	close(t.done)
	return t.watcher.Close()
}

// watchLoop handles fsnotify events until Close.
func (t *ActivityTracker) watchLoop() {
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("file watcher error", "error", err)

		case <-t.done:
			return
		}
	}
}

// handleEvent maps a filesystem event back to its worktree and touches the
// record, subject to the throttle.
func (t *ActivityTracker) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	root, id := t.lookupRoot(event.Name)
	if id == "" {
		return
	}

	now := time.Now()

	t.mu.Lock()
	if last, ok := t.lastTouch[root]; ok && now.Sub(last) < touchThrottle {
		t.mu.Unlock()
		return
	}
	t.lastTouch[root] = now
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.store.Touch(ctx, id, now); err != nil {
		t.logger.Warn("failed to record worktree activity",
			"id", id,
			"error", err)
	}
}

// lookupRoot resolves an event path to the watched worktree root containing
// it.
func (t *ActivityTracker) lookupRoot(name string) (string, string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", ""
	}
	abs = filepath.Clean(abs)

	t.mu.Lock()
	defer t.mu.Unlock()

	for root, id := range t.byPath {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return root, id
		}
	}
	return "", ""
}
