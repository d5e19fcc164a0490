// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package worktree provisions and tears down isolated git working copies so
// that concurrent agent sessions can operate on the same repository without
// colliding.
//
// # Description
//
// The package is built around Manager, which owns the worktree lifecycle:
//
//	provisioning -> active -> releasing -> (deleted)
//	     |                        |
//	     +--------> error <-------+
//
// Records are durable (see the Store interface and storage/badger); the
// in-process guard sets that serialize duplicate operations are advisory and
// lost on restart, which is why Manager.Recover reconciles the store against
// the filesystem before a process serves requests.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Two calls for the same
// (repository, branch) pair or the same worktree id are serialized by
// fail-fast guards; unrelated calls proceed concurrently.
package worktree

import (
	"time"
)

// Status is the lifecycle state of a worktree record.
type Status string

const (
	// StatusProvisioning marks a record whose worktree is being created.
	StatusProvisioning Status = "provisioning"

	// StatusActive marks a record backed by a real, git-valid directory.
	StatusActive Status = "active"

	// StatusReleasing marks a record whose worktree is being torn down.
	StatusReleasing Status = "releasing"

	// StatusError marks a record whose last operation failed. The record is
	// kept as an audit trail until the pair is provisioned again.
	StatusError Status = "error"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusProvisioning, StatusActive, StatusReleasing, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether a crash can leave a record behind in this state.
// Active records are terminal with respect to crashes: they describe a
// completed operation and need no reconciliation.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusError
}

// Record is the persisted representation of a worktree.
//
// Natural key: (RepoPath, BranchName). At most one record with status
// provisioning, active, or releasing may exist per pair; WorktreePath is
// unique across all records. Both invariants are enforced by the Store.
type Record struct {
	// ID is minted at provisioning time and never changes.
	ID string `json:"id"`

	// RepoPath is the absolute path to the source repository.
	RepoPath string `json:"repo_path"`

	// WorktreePath is the absolute path of the isolated working copy.
	// Empty until the path has been computed during provisioning.
	WorktreePath string `json:"worktree_path"`

	// BranchName is the branch checked out in this worktree.
	BranchName string `json:"branch_name"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// AgentID optionally identifies the consuming agent session. This is a
	// non-owning association; the agent does not control the lifecycle.
	AgentID string `json:"agent_id,omitempty"`

	// ErrorMessage is set only when Status is StatusError.
	ErrorMessage string `json:"error_message,omitempty"`

	ProvisionedAt  time.Time `json:"provisioned_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NaturalKey returns the (repo, branch) key used by the provisioning guard
// and the store's pair index. A NUL separator keeps distinct pairs distinct
// even for pathological path/branch combinations.
func (r *Record) NaturalKey() string {
	return ProvisionKey(r.RepoPath, r.BranchName)
}

// ProvisionKey builds the guard/index key for a (repo, branch) pair.
func ProvisionKey(repoPath, branchName string) string {
	return repoPath + "\x00" + branchName
}

// Info is the public, read-only view of a worktree handed to callers.
type Info struct {
	ID             string    `json:"id"`
	RepoPath       string    `json:"repo_path"`
	WorktreePath   string    `json:"worktree_path"`
	BranchName     string    `json:"branch_name"`
	Status         Status    `json:"status"`
	AgentID        string    `json:"agent_id,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ProvisionedAt  time.Time `json:"provisioned_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// infoFromRecord maps a stored record to the public Info shape.
func infoFromRecord(r *Record) *Info {
	if r == nil {
		return nil
	}
	return &Info{
		ID:             r.ID,
		RepoPath:       r.RepoPath,
		WorktreePath:   r.WorktreePath,
		BranchName:     r.BranchName,
		Status:         r.Status,
		AgentID:        r.AgentID,
		ErrorMessage:   r.ErrorMessage,
		ProvisionedAt:  r.ProvisionedAt,
		LastActivityAt: r.LastActivityAt,
	}
}

// ProvisionOptions customizes a single Provision call.
type ProvisionOptions struct {
	// BaseBranch is the starting point when BranchName has to be created.
	// Empty means the repository's current HEAD.
	BaseBranch string

	// DirectoryName overrides the time-based suffix of the worktree
	// directory. The value is sanitized the same way branch names are.
	DirectoryName string

	// AgentID associates the worktree with an agent session.
	AgentID string
}

// ReleaseOptions customizes a single Release call.
type ReleaseOptions struct {
	// Force falls back to raw recursive directory removal when git refuses
	// to detach the worktree (e.g. uncommitted changes).
	Force bool

	// DeleteBranch deletes the branch after the worktree is detached.
	// Best-effort: a failure here is logged, never returned.
	DeleteBranch bool
}

// RecoveryReport summarizes what a Recover pass did.
type RecoveryReport struct {
	// Promoted counts provisioning records promoted to active because their
	// worktree turned out to be complete on disk.
	Promoted int

	// Destroyed counts provisioning/releasing records whose worktrees were
	// force-cleaned and whose records were deleted.
	Destroyed int

	// Orphans counts directories under the base directory that had no store
	// record and were removed.
	Orphans int

	// Failures counts per-entry cleanup errors. Failures never abort the
	// pass; they are logged and counted.
	Failures int
}
