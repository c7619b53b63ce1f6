// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	serverBinary string
	adminBinary  string
)

func TestMain(m *testing.M) {
	// 1. Build the binaries under test
	cwd, _ := os.Getwd()
	serverBinary = filepath.Join(cwd, "renshuu_connect_e2e")
	adminBinary = filepath.Join(cwd, "renshuu_admin_e2e")

	build := exec.Command("go", "build", "-o", serverBinary, "../../cmd/renshuu-connect")
	if out, err := build.CombinedOutput(); err != nil {
		fmt.Printf("Failed to build renshuu-connect: %v\n%s\n", err, out)
		os.Exit(1)
	}
	build = exec.Command("go", "build", "-o", adminBinary, "../../cmd/renshuu-admin")
	if out, err := build.CombinedOutput(); err != nil {
		fmt.Printf("Failed to build renshuu-admin: %v\n%s\n", err, out)
		os.Exit(1)
	}

	// 2. Run Tests
	exitCode := m.Run()

	// 3. Cleanup
	os.Remove(serverBinary)
	os.Remove(adminBinary)
	os.Exit(exitCode)
}
