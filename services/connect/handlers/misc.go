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
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/renshuu-connect/pkg/logging"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "renshuu-connect",
	})
}

// About reports the running process in plain text. The container
// HEALTHCHECK curls this endpoint, so the reply must stay cheap and
// dependency-free.
func About(c *gin.Context) {
	c.String(http.StatusOK, "renshuu-connect is running!\nPID = %d", os.Getpid())
}

// HandleRoot returns the GET / handler: a plain page for humans poking
// the port. With ?showlog=1 (any value but "0") it dumps the in-memory
// log ring; otherwise it replies with an empty 200 so port probes see
// the service as alive.
func HandleRoot(ring *logging.RingHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.DefaultQuery("showlog", "0") == "0" || ring == nil {
			c.String(http.StatusOK, "")
			return
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Last %d log messages:\n\n", ring.Cap())
		sb.WriteString(strings.Join(ring.Lines(), "\n"))
		c.String(http.StatusOK, sb.String())
	}
}
