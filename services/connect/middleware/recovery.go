// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/renshuu-connect/services/connect/datatypes"
)

// ProtocolRecovery creates a middleware that converts panics into
// AnkiConnect error envelopes.
//
// # Description
//
// A panicking handler must still answer HTTP 200 with {"result": null,
// "error": "..."}: protocol clients read the error field and report it
// to the user, while a 500 makes them conclude the service is down. The
// panic value goes into the error message and the log; the stack trace
// lands on gin.DefaultErrorWriter via Gin's recovery plumbing.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Limitations
//
//   - Applies to every route, so admin endpoints also answer panics
//     with 200 envelopes. The error field still tells the story.
func ProtocolRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		slog.Error("panic recovered",
			"panic", fmt.Sprintf("%v", recovered),
			"path", c.Request.URL.Path,
			"request_id", GetRequestID(c),
		)
		c.AbortWithStatusJSON(http.StatusOK,
			datatypes.NewErrorEnvelope(fmt.Sprintf("internal error: %v", recovered)))
	})
}
