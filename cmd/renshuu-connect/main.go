// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command renshuu-connect starts the AnkiConnect-to-Renshuu bridge HTTP
// server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables, starts the server on port
// 8765, and shuts down gracefully on SIGINT/SIGTERM.
//
// # Environment Variables
//
//   - CONNECT_PORT: HTTP server port (default: 8765)
//   - DATA_DIR: durable state directory, holds the SQLite cache (default: ./data)
//   - LOGS_DIR: daily log file directory (default: ./logs)
//   - RENSHUU_API_KEY: fallback Renshuu API key (optional)
//   - RENSHUU_BASE_URL: Renshuu API root override (optional)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - ENABLE_METRICS: Prometheus /metrics endpoint (default: true)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, none (default: none)
//
// # Usage
//
//	# Build
//	go build -o renshuu-connect ./cmd/renshuu-connect
//
//	# Run
//	./renshuu-connect
//
//	# Or via container
//	docker run -p 8765:8765 -v renshuu_data:/data renshuu-connect
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/renshuu-connect/services/connect"
)

func main() {
	// Bootstrap structured logging; the service swaps in its
	// multi-destination logger during New.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg, err := connect.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting renshuu-connect",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"logs_dir", cfg.LogsDir,
		"fallback_key_present", cfg.RenshuuKey != "",
	)

	// Create the service with default (no-op) extension options.
	// Hardened builds pass custom ServiceOptions here.
	svc, err := connect.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create renshuu-connect: %v", err)
	}

	// Stop on SIGINT/SIGTERM so `docker stop` drains in-flight requests
	// instead of killing them.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run the server (blocks until shutdown)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("renshuu-connect error: %v", err)
	}
}
