// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skeinworks/skein/services/worktree"
)

// ServiceVersion is the worktree service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the worktree service.
type Handlers struct {
	mgr    *worktree.Manager
	logger *slog.Logger
}

// NewHandlers creates handlers for the given manager.
func NewHandlers(mgr *worktree.Manager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{mgr: mgr, logger: logger}
}

// HandleProvision handles POST /v1/worktrees.
//
// # Description
//
// Provisions (or idempotently returns) the worktree for a (repo, branch)
// pair. A request racing an in-flight provision for the same pair gets 409
// immediately; callers retry, the service never queues.
//
// Response:
//
//	201 Created: WorktreeResponse (also for idempotent reuse of an active pair)
//	400 Bad Request: Validation error or not a git repository
//	409 Conflict: Provision already in flight for the pair
//	502 Bad Gateway: Git invocation failed
func (h *Handlers) HandleProvision(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleProvision")

	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("provisioning worktree", "repo", req.RepoPath, "branch", req.BranchName)

	info, err := h.mgr.Provision(c.Request.Context(), req.RepoPath, req.BranchName, worktree.ProvisionOptions{
		BaseBranch:    req.BaseBranch,
		DirectoryName: req.DirectoryName,
		AgentID:       req.AgentID,
	})
	if err != nil {
		h.writeError(c, logger, err, "PROVISION_FAILED")
		return
	}

	c.JSON(http.StatusCreated, WorktreeResponse{Worktree: info})
}

// HandleRelease handles DELETE /v1/worktrees/:id.
//
// The body is optional; an empty body means a plain, non-forced release.
//
// Response:
//
//	200 OK: empty object
//	404 Not Found: Unknown worktree id
//	409 Conflict: Release already in flight for the id
//	412 Precondition Failed: Detach failed and force was not set
//	502 Bad Gateway: Git invocation failed
func (h *Handlers) HandleRelease(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRelease")

	id := c.Param("id")

	var req ReleaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	logger.Info("releasing worktree", "id", id, "force", req.Force)

	err := h.mgr.Release(c.Request.Context(), id, worktree.ReleaseOptions{
		Force:        req.Force,
		DeleteBranch: req.DeleteBranch,
	})
	if err != nil {
		h.writeError(c, logger, err, "RELEASE_FAILED")
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

// HandleGet handles GET /v1/worktrees/:id.
func (h *Handlers) HandleGet(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleGet")

	id := c.Param("id")

	info, err := h.mgr.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, logger, err, "GET_FAILED")
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Worktree not found",
			Code:  "NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, WorktreeResponse{Worktree: info})
}

// HandleList handles GET /v1/worktrees. The optional "repo" query parameter
// filters by repository path.
func (h *Handlers) HandleList(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleList")

	infos, err := h.mgr.List(c.Request.Context(), c.Query("repo"))
	if err != nil {
		h.writeError(c, logger, err, "LIST_FAILED")
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Worktrees: infos,
		Count:     len(infos),
	})
}

// HandleHealth handles GET /v1/health. Always 200 if the process is up.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// writeError maps lifecycle errors onto HTTP status codes.
func (h *Handlers) writeError(c *gin.Context, logger *slog.Logger, err error, defaultCode string) {
	statusCode := http.StatusInternalServerError
	errCode := defaultCode

	var gitErr *worktree.GitError

	switch {
	case errors.Is(err, worktree.ErrProvisionInFlight),
		errors.Is(err, worktree.ErrReleaseInFlight):
		statusCode = http.StatusConflict
		errCode = "OPERATION_IN_FLIGHT"
	case errors.Is(err, worktree.ErrRecordExists),
		errors.Is(err, worktree.ErrStaleRecord):
		statusCode = http.StatusConflict
		errCode = "RECORD_CONFLICT"
	case errors.Is(err, worktree.ErrWorktreeNotFound):
		statusCode = http.StatusNotFound
		errCode = "NOT_FOUND"
	case errors.Is(err, worktree.ErrForceRequired):
		statusCode = http.StatusPreconditionFailed
		errCode = "FORCE_REQUIRED"
	case errors.Is(err, worktree.ErrNotARepository):
		statusCode = http.StatusBadRequest
		errCode = "NOT_A_REPOSITORY"
	case errors.Is(err, worktree.ErrInvalidArgument):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_ARGUMENT"
	case errors.As(err, &gitErr):
		statusCode = http.StatusBadGateway
		errCode = "GIT_FAILED"
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "status", statusCode, "error", err)
	}

	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// getOrCreateRequestID returns the X-Request-ID header, minting one if the
// caller did not send it.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
