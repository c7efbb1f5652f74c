// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mandi

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the mandi API under /v1/mandi.
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	grp := router.Group("/v1/mandi")
	{
		grp.POST("/ask", h.HandleAsk)
		grp.GET("/sessions/:id", h.HandleSession)
		grp.GET("/health", h.HandleHealth)
		grp.GET("/ready", h.HandleReady)
	}
}
