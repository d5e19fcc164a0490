// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Executor runs the narrow set of git subcommands the manager needs. The
// manager never implements version-control algorithms itself; it only drives
// an external git binary through this surface.
//
// Unlike a per-repository client, the executor is repository-agnostic: every
// call names the working directory, because one manager serves worktrees for
// many repositories.
type Executor interface {
	// IsRepository reports whether path is inside a git working tree
	// (worktrees included).
	IsRepository(ctx context.Context, path string) bool

	// BranchExists reports whether refs/heads/<name> exists in the
	// repository at repoPath.
	BranchExists(ctx context.Context, repoPath, name string) bool

	// CreateBranch creates a branch without switching to it. An empty base
	// starts the branch at the repository's current HEAD.
	CreateBranch(ctx context.Context, repoPath, name, base string) error

	// DeleteBranch deletes a branch. Use force for unmerged branches.
	DeleteBranch(ctx context.Context, repoPath, name string, force bool) error

	// AddWorktree attaches a worktree at path tracking branch.
	AddWorktree(ctx context.Context, repoPath, path, branch string) error

	// RemoveWorktree detaches the worktree at path. Use force to discard
	// uncommitted changes.
	RemoveWorktree(ctx context.Context, repoPath, path string, force bool) error

	// PruneWorktrees drops stale administrative entries left behind when a
	// worktree directory was removed out-of-band.
	PruneWorktrees(ctx context.Context, repoPath string) error

	// ListWorktrees returns all worktrees of the repository, main one
	// included.
	ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeEntry, error)
}

// WorktreeEntry is one entry of `git worktree list --porcelain`.
type WorktreeEntry struct {
	Path   string
	HEAD   string
	Branch string
	Locked bool
}

// GitExecutor implements Executor using the git command line.
//
// # Description
//
// Every invocation runs under its own deadline: a hung git process fails the
// calling operation after the configured timeout instead of hanging it
// forever.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type GitExecutor struct {
	binary  string
	timeout time.Duration
}

// NewGitExecutor creates an executor for the given git binary.
//
// # Inputs
//
//   - binary: Path or name of the git executable. Empty means "git".
//   - timeout: Per-invocation deadline. Non-positive means 30 seconds.
//
// # Outputs
//
//   - *GitExecutor: Ready-to-use executor.
func NewGitExecutor(binary string, timeout time.Duration) *GitExecutor {
	if binary == "" {
		binary = "git"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitExecutor{binary: binary, timeout: timeout}
}

// run executes a git command in dir and returns trimmed stdout.
func (g *GitExecutor) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &GitError{
				Args: args,
				Dir:  dir,
				Err:  fmt.Errorf("timeout after %v", g.timeout),
			}
		}
		return "", &GitError{
			Args:   args,
			Dir:    dir,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// runSilent executes a git command and returns only success/failure.
func (g *GitExecutor) runSilent(ctx context.Context, dir string, args ...string) error {
	_, err := g.run(ctx, dir, args...)
	return err
}

// IsRepository checks path with `git rev-parse --git-dir`, which succeeds in
// both primary checkouts and linked worktrees.
func (g *GitExecutor) IsRepository(ctx context.Context, path string) bool {
	return g.runSilent(ctx, path, "rev-parse", "--git-dir") == nil
}

// BranchExists checks for refs/heads/<name> via `git show-ref`.
func (g *GitExecutor) BranchExists(ctx context.Context, repoPath, name string) bool {
	return g.runSilent(ctx, repoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+name) == nil
}

// CreateBranch creates a branch without switching to it.
func (g *GitExecutor) CreateBranch(ctx context.Context, repoPath, name, base string) error {
	if base == "" {
		return g.runSilent(ctx, repoPath, "branch", name)
	}
	return g.runSilent(ctx, repoPath, "branch", name, base)
}

// DeleteBranch deletes a branch. force uses -D for unmerged branches.
func (g *GitExecutor) DeleteBranch(ctx context.Context, repoPath, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	return g.runSilent(ctx, repoPath, "branch", flag, name)
}

// AddWorktree attaches a worktree at path checked out to branch.
func (g *GitExecutor) AddWorktree(ctx context.Context, repoPath, path, branch string) error {
	return g.runSilent(ctx, repoPath, "worktree", "add", path, branch)
}

// RemoveWorktree detaches the worktree at path.
func (g *GitExecutor) RemoveWorktree(ctx context.Context, repoPath, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return g.runSilent(ctx, repoPath, args...)
}

// PruneWorktrees runs `git worktree prune` so stale entries don't block
// future adds at the same path.
func (g *GitExecutor) PruneWorktrees(ctx context.Context, repoPath string) error {
	return g.runSilent(ctx, repoPath, "worktree", "prune")
}

// ListWorktrees parses `git worktree list --porcelain` into entries.
func (g *GitExecutor) ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeEntry, error) {
	output, err := g.run(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	return parseWorktreeList(output), nil
}

// parseWorktreeList parses git worktree list --porcelain output.
//
// Format:
//
//	worktree /path/to/main
//	HEAD abc123def456
//	branch refs/heads/main
//
//	worktree /path/to/worktree
//	HEAD def456abc123
//	detached
//	locked
func parseWorktreeList(output string) []WorktreeEntry {
	if output == "" {
		return nil
	}

	var entries []WorktreeEntry
	var current *WorktreeEntry

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if line == "" {
			if current != nil {
				entries = append(entries, *current)
				current = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current = &WorktreeEntry{
				Path: strings.TrimPrefix(line, "worktree "),
			}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "locked" && current != nil:
			current.Locked = true
		}
		// "detached" is implicit when no branch is set
	}

	if current != nil {
		entries = append(entries, *current)
	}

	return entries
}
