// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skeinworks/skein/pkg/validation"
)

// Config configures a Manager.
type Config struct {
	// BaseDir is the directory all worktrees are provisioned under.
	// Required.
	BaseDir string

	// GitBinary is the git executable to drive. Default: "git".
	GitBinary string

	// GitTimeout bounds every git invocation. A hung git process fails the
	// calling operation after this long instead of hanging it.
	// Default: 30 seconds.
	GitTimeout time.Duration

	// TrackActivity enables the fsnotify-based activity tracker that bumps
	// LastActivityAt when files inside an active worktree change.
	// Default: false.
	TrackActivity bool

	// MetricsEnabled controls OpenTelemetry metric recording.
	// Default: true.
	MetricsEnabled bool

	// TracingEnabled controls OpenTelemetry span creation.
	// Default: false.
	TracingEnabled bool

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Clock supplies timestamps; injectable for tests.
	// Default: time.Now.
	Clock func() time.Time

	// NewID mints record ids; injectable for tests.
	// Default: "wt-" + uuid.
	NewID func() string
}

// DefaultConfig returns sensible defaults for production use. BaseDir must
// still be set by the caller.
func DefaultConfig() Config {
	return Config{
		GitBinary:      "git",
		GitTimeout:     30 * time.Second,
		MetricsEnabled: true,
	}
}

// Manager orchestrates the worktree lifecycle: provision, release, read, and
// startup recovery. See the package documentation for the state machine.
type Manager struct {
	config Config
	store  Store
	git    Executor
	fs     Filesystem

	// Advisory guard sets. provisioning keys by (repo, branch) pair,
	// releasing by worktree id. Both fail fast on conflict.
	provisioning *guardSet
	releasing    *guardSet

	activity *ActivityTracker
	logger   *slog.Logger
	tracer   *Tracer
	clock    func() time.Time
	newID    func() string
}

// NewManager creates a manager with the production executor and filesystem.
//
// # Description
//
// Validates the configuration, resolves BaseDir to an absolute path, and
// creates it if missing. The store is injected so its lifecycle (and its
// backing database) stays with the caller.
//
// Recover is NOT run here: callers decide when to reconcile, but must do so
// before serving requests after an unclean shutdown.
//
// # Inputs
//
//   - config: Manager configuration. Use DefaultConfig() for defaults.
//   - store: Durable record store. Must not be nil.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager.
//   - error: Non-nil if the configuration is invalid or BaseDir cannot be
//     created.
func NewManager(config Config, store Store) (*Manager, error) {
	git := NewGitExecutor(config.GitBinary, config.GitTimeout)
	return NewManagerWithDeps(config, store, git, OSFilesystem{})
}

// NewManagerWithDeps creates a manager with injected executor and filesystem
// implementations (for testing failure paths).
func NewManagerWithDeps(config Config, store Store, git Executor, fs Filesystem) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if git == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if config.BaseDir == "" {
		return nil, fmt.Errorf("BaseDir is required")
	}

	absBase, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}
	config.BaseDir = absBase

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.NewID == nil {
		config.NewID = func() string { return "wt-" + uuid.New().String() }
	}

	if err := fs.MkdirAll(config.BaseDir); err != nil {
		return nil, fmt.Errorf("creating base directory %s: %w", config.BaseDir, err)
	}

	logger := config.Logger.With("component", "worktree.Manager")

	SetMetricsEnabled(config.MetricsEnabled)

	m := &Manager{
		config:       config,
		store:        store,
		git:          git,
		fs:           fs,
		provisioning: newGuardSet(),
		releasing:    newGuardSet(),
		logger:       logger,
		tracer:       NewTracer(logger, config.TracingEnabled),
		clock:        config.Clock,
		newID:        config.NewID,
	}

	if config.TrackActivity {
		tracker, err := NewActivityTracker(store, logger)
		if err != nil {
			return nil, fmt.Errorf("creating activity tracker: %w", err)
		}
		m.activity = tracker
	}

	return m, nil
}

// Provision reserves an isolated worktree for (repoPath, branchName).
//
// # Description
//
// Idempotent for active worktrees: a second call for a pair that already has
// an active record returns the same Info without touching the filesystem.
// A call racing an in-flight provision for the same pair fails immediately
// with ErrProvisionInFlight — requests are never queued.
//
// On any failure after the record is inserted, the record is marked error
// with the failure message (the store is the audit trail) and the error is
// returned (the error is the control-flow signal).
//
// # Inputs
//
//   - ctx: Context for cancellation. Each git call additionally runs under
//     the configured GitTimeout.
//   - repoPath: Absolute path to the source repository.
//   - branchName: Branch to check out in the worktree; created if missing.
//   - opts: Optional base branch, directory name, and agent association.
//
// # Outputs
//
//   - *Info: Describes a real, git-valid working copy.
//   - error: See the package error taxonomy.
func (m *Manager) Provision(ctx context.Context, repoPath, branchName string, opts ProvisionOptions) (info *Info, err error) {
	// Both names end up as git arguments; reject injection-shaped input
	// before touching any state.
	if err := validation.ValidateRepoPath(repoPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := validation.ValidateBranchName(branchName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if opts.BaseBranch != "" {
		if err := validation.ValidateBranchName(opts.BaseBranch); err != nil {
			return nil, fmt.Errorf("%w: base branch: %v", ErrInvalidArgument, err)
		}
	}
	if opts.DirectoryName != "" {
		if err := validation.ValidateDirectoryName(opts.DirectoryName); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	absRepo, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	repoPath = absRepo

	ctx, span := m.tracer.StartProvision(ctx, repoPath, branchName)
	defer func() { m.tracer.EndProvision(span, info, err) }()

	logger := LoggerWithTrace(ctx, m.logger).With(
		"repo", repoPath,
		"branch", branchName)

	start := m.clock()
	defer func() {
		recordProvision(ctx, m.clock().Sub(start), err == nil)
	}()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Provision: %v", r)
			logger.Error("panic in Provision", "panic", r)
		}
	}()

	// Guard: atomic check-and-add. A duplicate observes the fast-fail
	// here, not a race on the store.
	key := ProvisionKey(repoPath, branchName)
	if !m.provisioning.TryAdd(key) {
		return nil, &ConflictError{Key: key, Err: ErrProvisionInFlight}
	}
	defer m.provisioning.Remove(key)

	// Idempotent re-provisioning: an active record is returned unchanged.
	existing, err := m.store.GetByRepoBranch(ctx, repoPath, branchName)
	if err != nil {
		return nil, fmt.Errorf("looking up record: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case StatusActive:
			logger.Debug("reusing active worktree", "id", existing.ID)
			return infoFromRecord(existing), nil
		case StatusError:
			// Superseded audit entry; the fresh attempt replaces it.
			if err := m.store.Delete(ctx, existing.ID); err != nil {
				return nil, fmt.Errorf("replacing failed record %s: %w", existing.ID, err)
			}
		default:
			// provisioning/releasing with no guard entry: leftovers from
			// an unclean shutdown that recovery has not reconciled yet.
			return nil, fmt.Errorf("%w (record %s is %s)", ErrStaleRecord, existing.ID, existing.Status)
		}
	}

	now := m.clock()
	rec := &Record{
		ID:             m.newID(),
		RepoPath:       repoPath,
		BranchName:     branchName,
		Status:         StatusProvisioning,
		AgentID:        opts.AgentID,
		ProvisionedAt:  now,
		LastActivityAt: now,
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("inserting record: %w", err)
	}

	logger = logger.With("id", rec.ID)
	logger.Info("provisioning worktree")

	if !m.git.IsRepository(ctx, repoPath) {
		return nil, m.failProvision(ctx, rec, logger,
			fmt.Errorf("%w: %s", ErrNotARepository, repoPath))
	}

	rec.WorktreePath = m.worktreePathFor(branchName, opts.DirectoryName, now)
	if err := m.store.Update(ctx, rec); err != nil {
		return nil, m.failProvision(ctx, rec, logger,
			fmt.Errorf("recording worktree path: %w", err))
	}

	if !m.git.BranchExists(ctx, repoPath, branchName) {
		if err := m.git.CreateBranch(ctx, repoPath, branchName, opts.BaseBranch); err != nil {
			return nil, m.failProvision(ctx, rec, logger,
				fmt.Errorf("creating branch %s: %w", branchName, err))
		}
	}

	if err := m.git.AddWorktree(ctx, repoPath, rec.WorktreePath, branchName); err != nil {
		return nil, m.failProvision(ctx, rec, logger,
			fmt.Errorf("attaching worktree at %s: %w", rec.WorktreePath, err))
	}

	rec.Status = StatusActive
	if err := m.store.Update(ctx, rec); err != nil {
		// The worktree exists on disk; the next recovery pass promotes the
		// record if this write never landed.
		return nil, m.failProvision(ctx, rec, logger,
			fmt.Errorf("activating record: %w", err))
	}

	incActive(ctx)
	m.watchActivity(rec)

	logger.Info("worktree provisioned", "path", rec.WorktreePath)
	return infoFromRecord(rec), nil
}

// failProvision marks the record as failed and returns the cause. The store
// keeps the audit trail; the returned error is the control-flow signal.
func (m *Manager) failProvision(ctx context.Context, rec *Record, logger *slog.Logger, cause error) error {
	logger.Error("provisioning failed", "error", cause)
	if err := m.store.UpdateStatus(ctx, rec.ID, StatusError, cause.Error()); err != nil {
		logger.Warn("failed to record error status", "error", err)
	}
	return cause
}

// Release detaches a worktree and deletes its record.
//
// # Description
//
// When the detach fails and Force is false, the release aborts with
// ErrForceRequired and the record stays in the releasing state for the next
// recovery pass; retrying with Force falls back to raw directory removal.
// Branch deletion (when requested) is best-effort cleanup: a failure there
// is logged, never returned.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - worktreeID: Id returned by Provision.
//   - opts: Force and DeleteBranch switches.
//
// # Outputs
//
//   - error: ErrReleaseInFlight, ErrWorktreeNotFound, ErrForceRequired, or
//     a store/cleanup failure.
func (m *Manager) Release(ctx context.Context, worktreeID string, opts ReleaseOptions) (err error) {
	ctx, span := m.tracer.StartRelease(ctx, worktreeID, opts)
	defer func() { m.tracer.EndRelease(span, err) }()

	start := m.clock()
	defer func() {
		recordRelease(ctx, m.clock().Sub(start), err == nil)
	}()

	if !m.releasing.TryAdd(worktreeID) {
		return &ConflictError{Key: worktreeID, Err: ErrReleaseInFlight}
	}
	defer m.releasing.Remove(worktreeID)

	rec, err := m.store.GetByID(ctx, worktreeID)
	if err != nil {
		return fmt.Errorf("looking up record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrWorktreeNotFound, worktreeID)
	}

	logger := LoggerWithTrace(ctx, m.logger).With(
		"id", rec.ID,
		"repo", rec.RepoPath,
		"branch", rec.BranchName)

	wasActive := rec.Status == StatusActive

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Release: %v", r)
			logger.Error("panic in Release", "panic", r)
		}
	}()

	if err := m.store.UpdateStatus(ctx, rec.ID, StatusReleasing, ""); err != nil {
		return fmt.Errorf("marking record releasing: %w", err)
	}

	m.unwatchActivity(rec)

	logger.Info("releasing worktree", "force", opts.Force, "delete_branch", opts.DeleteBranch)

	if detachErr := m.git.RemoveWorktree(ctx, rec.RepoPath, rec.WorktreePath, opts.Force); detachErr != nil {
		if !opts.Force {
			// The record stays releasing; the next recovery pass finishes
			// the release destructively.
			logger.Warn("worktree detach failed", "error", detachErr)
			return fmt.Errorf("%w: %v", ErrForceRequired, detachErr)
		}

		logger.Warn("git detach failed, removing directory directly", "error", detachErr)
		if rmErr := m.fs.RemoveAll(rec.WorktreePath); rmErr != nil {
			return m.failRelease(ctx, rec, logger,
				fmt.Errorf("removing worktree directory %s: %w", rec.WorktreePath, rmErr))
		}
		if pruneErr := m.git.PruneWorktrees(ctx, rec.RepoPath); pruneErr != nil {
			logger.Warn("worktree prune failed", "error", pruneErr)
		}
	}

	if opts.DeleteBranch {
		// Best-effort: branch deletion is cleanup, not resource
		// reclamation.
		if brErr := m.git.DeleteBranch(ctx, rec.RepoPath, rec.BranchName, true); brErr != nil {
			logger.Warn("branch deletion failed", "error", brErr)
		}
	}

	if err := m.store.Delete(ctx, rec.ID); err != nil {
		return m.failRelease(ctx, rec, logger,
			fmt.Errorf("deleting record: %w", err))
	}

	if wasActive {
		decActive(ctx)
	}

	logger.Info("worktree released")
	return nil
}

// failRelease marks the record as failed and returns the cause.
func (m *Manager) failRelease(ctx context.Context, rec *Record, logger *slog.Logger, cause error) error {
	logger.Error("release failed", "error", cause)
	if err := m.store.UpdateStatus(ctx, rec.ID, StatusError, cause.Error()); err != nil {
		logger.Warn("failed to record error status", "error", err)
	}
	return cause
}

// Get returns the worktree with the given id, or nil if it does not exist.
// Pure store read: never touches the filesystem or the executor.
func (m *Manager) Get(ctx context.Context, worktreeID string) (*Info, error) {
	rec, err := m.store.GetByID(ctx, worktreeID)
	if err != nil {
		return nil, fmt.Errorf("looking up record: %w", err)
	}
	return infoFromRecord(rec), nil
}

// List returns all worktrees, optionally filtered by repository path.
// Pure store read.
func (m *Manager) List(ctx context.Context, repoFilter string) ([]*Info, error) {
	if repoFilter != "" {
		abs, err := filepath.Abs(repoFilter)
		if err != nil {
			return nil, fmt.Errorf("resolving repo filter: %w", err)
		}
		repoFilter = abs
	}

	recs, err := m.store.List(ctx, repoFilter)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	infos := make([]*Info, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, infoFromRecord(rec))
	}
	return infos, nil
}

// BaseDir returns the resolved base worktree directory.
func (m *Manager) BaseDir() string {
	return m.config.BaseDir
}

// Close stops the activity tracker. The store is closed by whoever opened
// it.
func (m *Manager) Close() error {
	if m.activity != nil {
		return m.activity.Close()
	}
	return nil
}

// =============================================================================
// Path computation
// =============================================================================

// worktreePathFor computes the deterministic worktree location for a branch.
// The directory name is the sanitized branch plus either the caller-supplied
// name or a time-based suffix, rooted under BaseDir.
func (m *Manager) worktreePathFor(branchName, directoryName string, now time.Time) string {
	name := sanitizeName(branchName)
	if directoryName != "" {
		name += "-" + sanitizeName(directoryName)
	} else {
		name += "-" + strconv.FormatInt(now.Unix(), 10)
	}
	return filepath.Join(m.config.BaseDir, name)
}

// sanitizeName maps an arbitrary branch or directory name onto a safe single
// path segment: runs of anything outside [A-Za-z0-9._] collapse to one dash.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "worktree"
	}
	return out
}

// watchActivity registers an active worktree with the tracker, if enabled.
func (m *Manager) watchActivity(rec *Record) {
	if m.activity == nil {
		return
	}
	if err := m.activity.Watch(rec.ID, rec.WorktreePath); err != nil {
		// Advisory, like the guard sets: a lost watch degrades
		// LastActivityAt freshness, nothing else.
		m.logger.Warn("failed to watch worktree for activity",
			"id", rec.ID,
			"path", rec.WorktreePath,
			"error", err)
	}
}

// unwatchActivity removes a worktree from the tracker, if enabled.
func (m *Manager) unwatchActivity(rec *Record) {
	if m.activity == nil {
		return
	}
	m.activity.Unwatch(rec.WorktreePath)
}
