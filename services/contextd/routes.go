// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextd

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all /v1/context/* endpoints on the group.
//
// Endpoints:
//
//	POST /v1/context/index - Full build from parse descriptors
//	POST /v1/context/update - Incremental change batch
//	POST /v1/context/query - Budgeted context retrieval
//	POST /v1/context/answer - Retrieval + answer synthesis
//	POST /v1/context/changeset - Diff impact analysis
//	GET  /v1/context/snapshots - List stored snapshots
//	POST /v1/context/snapshots - Save the current version
//	GET  /v1/context/snapshots/diff - Compare two snapshots
//	GET  /v1/context/stats - Graph size counters
//	GET  /v1/context/health - Component reachability
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ctx := rg.Group("/context")
	{
		ctx.POST("/index", handlers.HandleIndex)
		ctx.POST("/update", handlers.HandleUpdate)

		ctx.POST("/query", handlers.HandleQuery)
		ctx.POST("/answer", handlers.HandleAnswer)
		ctx.POST("/changeset", handlers.HandleChangeset)

		ctx.GET("/snapshots", handlers.HandleListSnapshots)
		ctx.POST("/snapshots", handlers.HandleSaveSnapshot)
		ctx.GET("/snapshots/diff", handlers.HandleDiffSnapshots)

		ctx.GET("/stats", handlers.HandleStats)
		ctx.GET("/health", handlers.HandleHealth)
	}
}
