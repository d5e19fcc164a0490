// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		// Valid branches
		{"simple", "main", false},
		{"with slash", "feature/login", false},
		{"nested slashes", "user/feat/ui", false},
		{"with digits", "fix-1234", false},
		{"with dots", "release-1.2.3", false},
		{"with underscore", "fix_race", false},
		{"max length", strings.Repeat("a", 255), false},

		// Invalid branches
		{"empty", "", true},
		{"too long", strings.Repeat("a", 256), true},
		{"leading dash", "-rf", true},
		{"leading dot", ".hidden", true},
		{"space", "my branch", true},
		{"double dot", "a..b", true},
		{"double slash", "a//b", true},
		{"at brace", "a@{b", true},
		{"tilde", "a~1", true},
		{"caret", "a^2", true},
		{"colon", "a:b", true},
		{"question mark", "a?b", true},
		{"asterisk", "a*b", true},
		{"bracket", "a[b", true},
		{"backslash", `a\b`, true},
		{"control char", "a\x01b", true},
		{"newline", "a\nb", true},
		{"trailing slash", "feat/", true},
		{"trailing dot", "feat.", true},
		{"lock suffix", "feat.lock", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranchName(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranchName(%q) error = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDirectoryName(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"simple", "session-1", false},
		{"with space", "session one", false},
		{"with dots", "v1.2", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 256), true},
		{"leading dash", "-tmp", true},
		{"double dot", "../escape", true},
		{"control char", "a\tb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDirectoryName(tt.dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDirectoryName(%q) error = %v, wantErr %v", tt.dir, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRepoPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute", "/home/dev/repo", false},
		{"relative", "repo", false},
		{"empty", "", true},
		{"leading dash", "--upload-pack=x", true},
		{"nul byte", "/tmp/a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRepoPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRepoPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
