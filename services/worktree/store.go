// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"context"
	"time"
)

// Store is the durable record table the manager treats as its single source
// of truth. The manager never caches record state across calls.
//
// # Requirements
//
// Implementations must persist across process restarts and must not silently
// lose a write: manager correctness assumes write-then-read consistency
// within one process. Writes for a single record must be serialized.
//
// Lookups return (nil, nil) when no record matches; errors are reserved for
// store failures.
//
// The production implementation is storage/badger.RecordStore.
type Store interface {
	// Insert adds a new record. It fails with ErrRecordExists when a live
	// record (provisioning, active, releasing) already occupies the
	// (repo, branch) pair, or when the worktree path is taken.
	Insert(ctx context.Context, rec *Record) error

	// Update rewrites an existing record, maintaining the pair and path
	// indexes. ErrWorktreeNotFound if the id is unknown.
	Update(ctx context.Context, rec *Record) error

	// UpdateStatus transitions a record's status. The error message is
	// stored only when status is StatusError and cleared otherwise, so an
	// ErrorMessage can never outlive the error state.
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage string) error

	// Touch updates a record's LastActivityAt timestamp.
	Touch(ctx context.Context, id string, at time.Time) error

	GetByID(ctx context.Context, id string) (*Record, error)
	GetByRepoBranch(ctx context.Context, repoPath, branchName string) (*Record, error)
	GetByPath(ctx context.Context, worktreePath string) (*Record, error)

	// List returns all records, optionally filtered by repository path.
	List(ctx context.Context, repoFilter string) ([]*Record, error)

	// ListByStatus returns all records in any of the given states.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error)

	// Delete removes a record and its index entries. Deleting an unknown id
	// is a no-op.
	Delete(ctx context.Context, id string) error

	Close() error
}
