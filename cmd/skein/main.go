// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command skein manages isolated git worktrees for concurrent agent
// sessions.
//
// The daemon owns a base directory of worktrees and a durable record store;
// agents provision and release worktrees through its HTTP API. The CLI
// verbs are thin clients of that API.
//
// Usage:
//
//	skein serve --base-dir ~/.skein/worktrees --db-path ~/.skein/db
//	skein worktree provision --repo /path/to/repo --branch fix-1
//	skein worktree list
//	skein worktree release wt-abc123 --force
//	skein recover --base-dir ~/.skein/worktrees --db-path ~/.skein/db
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
