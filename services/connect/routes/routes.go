// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/renshuu-connect/pkg/logging"
	"github.com/AleutianAI/renshuu-connect/services/connect/handlers"
	"github.com/AleutianAI/renshuu-connect/services/connect/services"
)

// SetupRoutes registers every route on the router.
//
// The root path carries double duty: POST / is the whole AnkiConnect
// protocol, GET / is the human-facing log page. metricsHandler is nil
// when metrics are disabled, which drops the /metrics route entirely.
func SetupRoutes(router *gin.Engine, bridge *services.Bridge, ring *logging.RingHandler,
	metricsHandler http.Handler) {

	router.POST("/", handlers.HandleActions(bridge))
	router.GET("/", handlers.HandleRoot(ring))
	router.GET("/about", handlers.About)
	router.GET("/health", handlers.HealthCheck)

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Cache administration routes
	v1 := router.Group("/v1")
	{
		cache := v1.Group("/cache")
		{
			cache.GET("/summary", handlers.GetCacheSummary(bridge))
			cache.DELETE("/lists/:listID", handlers.DropCachedList(bridge))
		}
	}
}
