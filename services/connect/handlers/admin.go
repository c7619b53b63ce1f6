// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/renshuu-connect/pkg/validation"
	"github.com/AleutianAI/renshuu-connect/services/connect/observability"
	"github.com/AleutianAI/renshuu-connect/services/connect/services"
)

// GetCacheSummary returns the GET /v1/cache/summary handler: row counts
// for the cached words, lists, and memberships.
//
// The admin surface is ordinary HTTP, not AnkiConnect protocol, so
// failures here use real status codes.
func GetCacheSummary(bridge *services.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := bridge.CacheSummary(c.Request.Context())
		if err != nil {
			slog.Error("cache summary failed", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError("cacheSummary", observability.ErrorCodeCache)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache summary"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// DropCachedList returns the DELETE /v1/cache/lists/:listID handler.
// Dropping a list's memberships forces a fresh pagination walk on the
// next addNote touching that list; cached words stay, they are shared
// across lists.
func DropCachedList(bridge *services.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		listID, err := validation.SanitizeListID(c.Param("listID"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := bridge.DropListCache(c.Request.Context(), listID)
		if err != nil {
			slog.Error("cache drop failed", "list_id", listID, "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError("dropListCache", observability.ErrorCodeCache)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to drop list cache"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordCacheDrop()
		}
		c.JSON(http.StatusOK, result)
	}
}
