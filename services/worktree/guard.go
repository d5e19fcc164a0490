// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"sync"
)

// guardSet is an in-process advisory lock: a mutable set of string keys with
// atomic check-and-add. The design point is fail fast on conflict, never
// block and wait — a second caller for a held key gets an immediate error,
// not a queue slot.
//
// Guards are lost on restart. Recover is the durable substitute after a
// crash.
type guardSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newGuardSet() *guardSet {
	return &guardSet{keys: make(map[string]struct{})}
}

// TryAdd claims key, returning false if it is already held. The check and
// the add are a single atomic step.
func (g *guardSet) TryAdd(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.keys[key]; held {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

// Remove releases key. Removing an unheld key is a no-op.
func (g *guardSet) Remove(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}

// Held reports whether key is currently claimed.
func (g *guardSet) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.keys[key]
	return held
}

// Len returns the number of held keys.
func (g *guardSet) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}
