// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// subprocess arguments or file paths. Using these validators prevents
// injection attacks (argument injection into git, path traversal).
package validation

import (
	"fmt"
	"strings"
)

// maxNameLength bounds branch and directory names. Git itself tolerates much
// longer refs, but nothing legitimate needs one.
const maxNameLength = 255

// ValidateBranchName validates a git branch name before it is passed to a git
// subprocess.
//
// The rules are the practically-relevant subset of git-check-ref-format(1):
//
//   - 1-255 characters
//   - no leading "-" (would be parsed as a flag) or "."
//   - no control characters, spaces, or the ref-forbidden set ~ ^ : ? * [ \
//   - no "..", "//", or "@{" sequences
//   - no trailing "/", ".", or ".lock"
//
// Returns an error describing the first violation, or nil.
//
// Example:
//
//	if err := validation.ValidateBranchName(branch); err != nil {
//	    return nil, fmt.Errorf("invalid branch: %w", err)
//	}
//	// Safe to use as a git argument
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("branch name exceeds %d characters", maxNameLength)
	}
	if name[0] == '-' {
		return fmt.Errorf("branch name cannot start with '-': %q", name)
	}
	if name[0] == '.' {
		return fmt.Errorf("branch name cannot start with '.': %q", name)
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("branch name contains a control character")
		}
		if strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("branch name contains forbidden character %q: %q", r, name)
		}
	}

	for _, seq := range []string{"..", "//", "@{"} {
		if strings.Contains(name, seq) {
			return fmt.Errorf("branch name cannot contain %q: %q", seq, name)
		}
	}

	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("branch name cannot end with '/' or '.': %q", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("branch name cannot end with .lock: %q", name)
	}

	return nil
}

// ValidateDirectoryName validates a caller-supplied worktree directory name.
//
// Directory names are sanitized into a single path segment before use, so the
// rules here only reject inputs that are dangerous no matter how they are
// normalized:
//
//   - 1-255 characters
//   - no leading "-"
//   - no control characters or NUL
//   - no ".." sequence
//
// Returns an error describing the first violation, or nil.
func ValidateDirectoryName(name string) error {
	if name == "" {
		return fmt.Errorf("directory name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("directory name exceeds %d characters", maxNameLength)
	}
	if name[0] == '-' {
		return fmt.Errorf("directory name cannot start with '-': %q", name)
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("directory name contains a control character")
		}
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("directory name cannot contain '..': %q", name)
	}

	return nil
}

// ValidateRepoPath validates a repository path before it is resolved and
// passed to a git subprocess. Path existence and repository validity are
// checked later by git itself; this only rejects injection-shaped inputs.
func ValidateRepoPath(path string) error {
	if path == "" {
		return fmt.Errorf("repository path cannot be empty")
	}
	if path[0] == '-' {
		return fmt.Errorf("repository path cannot start with '-': %q", path)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("repository path contains a NUL byte")
	}
	return nil
}
