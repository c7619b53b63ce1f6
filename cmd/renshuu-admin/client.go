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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// adminTimeout bounds every admin call. The bridge answers from local
// state, so anything slower than this means it is wedged.
const adminTimeout = 10 * time.Second

// adminURL joins the configured server base URL with a request path.
func adminURL(path string) string {
	return strings.TrimSuffix(serverURL, "/") + path
}

// doJSON issues the request and decodes a JSON body into out. Non-2xx
// statuses come back as errors carrying the server's error message.
func doJSON(method, url string, out any) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: adminTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is renshuu-connect running at %s? %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, apiErrorMessage(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// fetchText issues a GET and returns the body as text, for the plain
// endpoints (/about, the showlog page).
func fetchText(url string) (string, error) {
	client := &http.Client{Timeout: adminTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("is renshuu-connect running at %s? %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server answered %d: %s", resp.StatusCode, apiErrorMessage(body))
	}
	return string(body), nil
}

// apiErrorMessage extracts the "error" field from an admin API failure
// body, falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
