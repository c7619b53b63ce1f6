// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/AleutianAI/renshuu-connect/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL        string
	personalityLevel string // UX personality level (full/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "renshuu-admin",
		Short: "Operate a running renshuu-connect bridge",
		Long: `renshuu-admin talks to the admin HTTP API of a running
renshuu-connect instance: inspect the local term cache, drop stale
list caches, tail recent logs, and check liveness.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Cache Administration ---
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local term cache",
	}
	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cached word, list, and membership counts",
		Run:   runCacheStats, // Defined in cmd_cache.go
	}
	cacheDropCmd = &cobra.Command{
		Use:   "drop [listID]",
		Short: "Forget cached memberships for one study list",
		Long: `Drops every cached membership row for the given Renshuu list ID.
The next duplicate check against that list re-walks it from the API,
so drop a list after editing it on renshuu.org directly.`,
		Args: cobra.ExactArgs(1),
		Run:  runCacheDrop, // Defined in cmd_cache.go
	}

	// --- Service Status ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check whether the bridge is up and answering",
		Run:   runStatus, // Defined in cmd_status.go
	}
	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Print the most recent log lines from the running service",
		Run:   runLogs, // Defined in cmd_status.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8765",
		"Base URL of the renshuu-connect instance")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), minimal, or machine (scripting)")

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheDropCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}
