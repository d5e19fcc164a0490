// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api exposes the worktree lifecycle over HTTP.
package api

import (
	"github.com/skeinworks/skein/services/worktree"
)

// ProvisionRequest is the body for POST /v1/worktrees.
type ProvisionRequest struct {
	// RepoPath is the absolute path to the source repository.
	RepoPath string `json:"repo_path" binding:"required"`

	// BranchName is the branch to check out; created if missing.
	BranchName string `json:"branch_name" binding:"required"`

	// BaseBranch is the starting point when the branch must be created.
	BaseBranch string `json:"base_branch,omitempty"`

	// DirectoryName overrides the generated worktree directory suffix.
	DirectoryName string `json:"directory_name,omitempty"`

	// AgentID associates the worktree with an agent session.
	AgentID string `json:"agent_id,omitempty"`
}

// ReleaseRequest is the optional body for DELETE /v1/worktrees/:id.
type ReleaseRequest struct {
	// Force falls back to raw directory removal when the git detach
	// fails.
	Force bool `json:"force,omitempty"`

	// DeleteBranch also deletes the branch, best-effort.
	DeleteBranch bool `json:"delete_branch,omitempty"`
}

// WorktreeResponse wraps a single worktree.
type WorktreeResponse struct {
	Worktree *worktree.Info `json:"worktree"`
}

// ListResponse wraps a worktree listing.
type ListResponse struct {
	Worktrees []*worktree.Info `json:"worktrees"`
	Count     int              `json:"count"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
