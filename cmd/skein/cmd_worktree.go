// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skeinworks/skein/services/worktree/api"
)

var (
	serverURL string

	provisionRepo    string
	provisionBranch  string
	provisionBase    string
	provisionDirName string
	provisionAgent   string

	releaseForce        bool
	releaseDeleteBranch bool

	listRepo string
	listJSON bool

	worktreeCmd = &cobra.Command{
		Use:   "worktree",
		Short: "Provision, inspect, and release worktrees",
	}

	provisionCmd = &cobra.Command{
		Use:   "provision",
		Short: "Provision an isolated worktree for a branch",
		Long: `Provisions a worktree for a (repository, branch) pair.

The call is idempotent: if the pair already has an active worktree, its
details are returned unchanged. If another provision for the same pair is
in flight, the command fails immediately; retry it.

Examples:
  skein worktree provision --repo /path/to/repo --branch fix-1
  skein worktree provision --repo /path/to/repo --branch fix-1 --base main --agent sess-42`,
		RunE: runProvisionCommand,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [worktree-id]",
		Short: "Release a worktree and free its branch",
		Long: `Releases a worktree by id.

A release whose git detach fails (dirty or locked worktree) is refused
unless --force is set; --force falls back to raw directory removal.

Examples:
  skein worktree release wt-abc123
  skein worktree release wt-abc123 --force --delete-branch`,
		Args: cobra.ExactArgs(1),
		RunE: runReleaseCommand,
	}

	getCmd = &cobra.Command{
		Use:   "get [worktree-id]",
		Short: "Show one worktree",
		Args:  cobra.ExactArgs(1),
		RunE:  runGetCommand,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List worktrees",
		RunE:  runListCommand,
	}
)

func init() {
	worktreeCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"Base URL of the Skein daemon")

	provisionCmd.Flags().StringVar(&provisionRepo, "repo", "",
		"Absolute path to the source repository (required)")
	provisionCmd.Flags().StringVar(&provisionBranch, "branch", "",
		"Branch to check out; created if missing (required)")
	provisionCmd.Flags().StringVar(&provisionBase, "base", "",
		"Starting point when the branch must be created")
	provisionCmd.Flags().StringVar(&provisionDirName, "dir-name", "",
		"Override the generated worktree directory suffix")
	provisionCmd.Flags().StringVar(&provisionAgent, "agent", "",
		"Agent session to associate with the worktree")
	_ = provisionCmd.MarkFlagRequired("repo")
	_ = provisionCmd.MarkFlagRequired("branch")

	releaseCmd.Flags().BoolVar(&releaseForce, "force", false,
		"Fall back to raw directory removal if the git detach fails")
	releaseCmd.Flags().BoolVar(&releaseDeleteBranch, "delete-branch", false,
		"Also delete the branch (best-effort)")

	listCmd.Flags().StringVar(&listRepo, "repo", "",
		"Only show worktrees for this repository")
	listCmd.Flags().BoolVar(&listJSON, "json", false,
		"Output as JSON for scripting")

	worktreeCmd.AddCommand(provisionCmd, releaseCmd, getCmd, listCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func runProvisionCommand(cmd *cobra.Command, args []string) error {
	req := api.ProvisionRequest{
		RepoPath:      provisionRepo,
		BranchName:    provisionBranch,
		BaseBranch:    provisionBase,
		DirectoryName: provisionDirName,
		AgentID:       provisionAgent,
	}

	var resp api.WorktreeResponse
	if err := callDaemon(http.MethodPost, "/v1/worktrees", req, &resp); err != nil {
		return err
	}

	wt := resp.Worktree
	fmt.Printf("Provisioned %s\n", wt.ID)
	fmt.Printf("  Path:   %s\n", wt.WorktreePath)
	fmt.Printf("  Branch: %s\n", wt.BranchName)
	fmt.Printf("  Status: %s\n", wt.Status)
	return nil
}

func runReleaseCommand(cmd *cobra.Command, args []string) error {
	req := api.ReleaseRequest{
		Force:        releaseForce,
		DeleteBranch: releaseDeleteBranch,
	}

	path := "/v1/worktrees/" + url.PathEscape(args[0])
	if err := callDaemon(http.MethodDelete, path, req, nil); err != nil {
		return err
	}

	fmt.Printf("Released %s\n", args[0])
	return nil
}

func runGetCommand(cmd *cobra.Command, args []string) error {
	var resp api.WorktreeResponse
	path := "/v1/worktrees/" + url.PathEscape(args[0])
	if err := callDaemon(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp.Worktree, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runListCommand(cmd *cobra.Command, args []string) error {
	path := "/v1/worktrees"
	if listRepo != "" {
		path += "?repo=" + url.QueryEscape(listRepo)
	}

	var resp api.ListResponse
	if err := callDaemon(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	if listJSON {
		out, err := json.MarshalIndent(resp.Worktrees, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if resp.Count == 0 {
		fmt.Println("No worktrees.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tBRANCH\tPATH\tLAST ACTIVITY")
	for _, wt := range resp.Worktrees {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			wt.ID, wt.Status, wt.BranchName, wt.WorktreePath,
			wt.LastActivityAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// callDaemon sends one JSON request to the daemon and decodes the response
// into out (when non-nil). Error responses surface as the daemon's message.
func callDaemon(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running at %s? %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp api.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s (%s)", errResp.Error, errResp.Code)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
