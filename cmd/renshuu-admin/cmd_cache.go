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
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/AleutianAI/renshuu-connect/pkg/ux"
	"github.com/spf13/cobra"
)

// cacheSummary mirrors the /v1/cache/summary response.
type cacheSummary struct {
	Words       int64 `json:"words"`
	Lists       int64 `json:"lists"`
	Memberships int64 `json:"memberships"`
}

// dropResult mirrors the DELETE /v1/cache/lists/:listID response.
type dropResult struct {
	DeletedCount int64  `json:"deleted_count"`
	ListID       string `json:"list_id"`
}

func runCacheStats(cmd *cobra.Command, args []string) {
	var summary cacheSummary
	if err := doJSON(http.MethodGet, adminURL("/v1/cache/summary"), &summary); err != nil {
		ux.Error(fmt.Sprintf("cache summary failed: %v", err))
		os.Exit(1)
	}

	ux.Title("Cache Summary")
	ux.KV("words", strconv.FormatInt(summary.Words, 10))
	ux.KV("lists", strconv.FormatInt(summary.Lists, 10))
	ux.KV("memberships", strconv.FormatInt(summary.Memberships, 10))

	if summary.Words == 0 {
		ux.Muted("The cache fills as clients check lists for duplicates.")
	}
}

func runCacheDrop(cmd *cobra.Command, args []string) {
	listID := args[0]

	var result dropResult
	target := adminURL("/v1/cache/lists/" + url.PathEscape(listID))
	if err := doJSON(http.MethodDelete, target, &result); err != nil {
		ux.Error(fmt.Sprintf("cache drop failed: %v", err))
		os.Exit(1)
	}

	if result.DeletedCount == 0 {
		ux.Warning(fmt.Sprintf("list %s had no cached memberships", result.ListID))
		return
	}
	ux.Success(fmt.Sprintf("dropped %d cached memberships for list %s",
		result.DeletedCount, result.ListID))
}
