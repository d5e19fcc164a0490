// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"os"
)

// Filesystem is the narrow directory surface the manager touches. Injectable
// so failure paths can be exercised without a real disk.
type Filesystem interface {
	// Exists reports whether path exists.
	Exists(path string) bool

	// MkdirAll creates path and any missing parents. Idempotent.
	MkdirAll(path string) error

	// RemoveAll removes path and everything under it. Removing a missing
	// path is a no-op.
	RemoveAll(path string) error

	// ReadDir lists the entries of path.
	ReadDir(path string) ([]os.DirEntry, error)
}

// OSFilesystem is the os-backed Filesystem used in production.
type OSFilesystem struct{}

func (OSFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFilesystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (OSFilesystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (OSFilesystem) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}
