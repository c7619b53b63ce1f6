// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the connect service.
//
// Two concerns live here: request identity (every request gets a uuid,
// surfaced in logs and the X-Request-ID response header) and panic
// recovery that answers in AnkiConnect protocol shape instead of a bare
// 500, because protocol clients treat non-200 replies as "Anki is not
// running" and stop talking.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is the response header carrying the request id.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the Gin context key for the request id. A typed key
// prevents collisions with other context values.
const requestIDKey = "aleutian_request_id"

// RequestID creates a middleware that assigns each request an id.
//
// # Description
//
// Reuses the caller's X-Request-ID header when present so ids correlate
// across proxies; generates a uuid otherwise. The id is stored in the
// Gin context for handlers and echoed in the response header.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		c.Next()
	}
}

// GetRequestID retrieves the request id from the Gin context. Returns
// "" when the RequestID middleware did not run.
func GetRequestID(c *gin.Context) string {
	if value, exists := c.Get(requestIDKey); exists {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
