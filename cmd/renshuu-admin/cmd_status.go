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
	"os"
	"strings"

	"github.com/AleutianAI/renshuu-connect/pkg/ux"
	"github.com/spf13/cobra"
)

func runStatus(cmd *cobra.Command, args []string) {
	body, err := fetchText(adminURL("/about"))
	if err != nil {
		ux.Error(fmt.Sprintf("bridge is not answering: %v", err))
		os.Exit(1)
	}

	ux.Success("bridge is up")
	ux.Muted(strings.TrimSpace(body))
}

func runLogs(cmd *cobra.Command, args []string) {
	body, err := fetchText(adminURL("/?showlog=1"))
	if err != nil {
		ux.Error(fmt.Sprintf("could not fetch logs: %v", err))
		os.Exit(1)
	}

	if strings.TrimSpace(body) == "" {
		ux.Muted("no log lines buffered yet")
		return
	}

	// Lines arrive already formatted by the service; print them as-is.
	fmt.Print(body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Println()
	}
}
