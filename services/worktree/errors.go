// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"errors"
	"fmt"
)

// Sentinel errors for the worktree lifecycle. Callers match these with
// errors.Is; the typed wrappers below carry the details.
var (
	// ErrProvisionInFlight is returned when a provision request races an
	// in-flight provision for the same (repo, branch) pair. Requests are
	// never queued; the caller decides whether to retry.
	ErrProvisionInFlight = errors.New("provision already in flight for this repository and branch")

	// ErrReleaseInFlight is returned when a release request races an
	// in-flight release for the same worktree id.
	ErrReleaseInFlight = errors.New("release already in flight for this worktree")

	// ErrWorktreeNotFound is returned by Release and the store lookups when
	// no record exists for the given id.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrNotARepository is returned when the provision target is not a
	// valid git repository.
	ErrNotARepository = errors.New("path is not a git repository")

	// ErrForceRequired is returned when a non-forced release fails to
	// detach the worktree. The record stays in the releasing state for the
	// next recovery pass; retrying with Force opts into destructive cleanup.
	ErrForceRequired = errors.New("worktree detach failed; retry with force to remove it destructively")

	// ErrRecordExists is returned by Store.Insert when a live record
	// (provisioning, active, or releasing) already occupies the
	// (repo, branch) pair or the worktree path.
	ErrRecordExists = errors.New("a live record already exists for this key")

	// ErrStaleRecord is returned when a provision request finds a live
	// non-active record left behind by an unclean shutdown. Recovery has
	// not run; the record cannot be safely replaced in-band.
	ErrStaleRecord = errors.New("a stale record exists for this repository and branch; run recovery first")

	// ErrInvalidArgument is returned when a caller-supplied name or path
	// fails validation before any state is touched.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConflictError reports a guard-set conflict on a provision or release.
type ConflictError struct {
	// Key is the contended guard key: repo+branch for provisions, the
	// worktree id for releases.
	Key string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v (key %q)", e.Err, e.Key)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// GitError reports a failed git invocation, preserving the subcommand and
// whatever the tool wrote to stderr.
type GitError struct {
	// Args are the git arguments, e.g. ["worktree", "add", ...].
	Args []string

	// Dir is the working directory the command ran in.
	Dir string

	// Stderr is the trimmed stderr output, empty if none was produced.
	Stderr string

	Err error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", firstArg(e.Args), e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", firstArg(e.Args), e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return "?"
	}
	return args[0]
}
