// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all worktree routes with the router.
//
// Endpoints:
//
//	POST   /v1/worktrees      - Provision a worktree
//	GET    /v1/worktrees      - List worktrees (optional ?repo= filter)
//	GET    /v1/worktrees/:id  - Get a worktree
//	DELETE /v1/worktrees/:id  - Release a worktree
//	GET    /v1/health         - Health check
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	worktrees := rg.Group("/worktrees")
	{
		worktrees.POST("", handlers.HandleProvision)
		worktrees.GET("", handlers.HandleList)
		worktrees.GET("/:id", handlers.HandleGet)
		worktrees.DELETE("/:id", handlers.HandleRelease)
	}

	rg.GET("/health", handlers.HandleHealth)
}
