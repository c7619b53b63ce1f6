// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for security-critical values.
//
// Renshuu list ids and term ids arrive from untrusted sources (deck names
// in AnkiConnect requests, URL path segments on the admin API) and end up
// in upstream URL paths and SQL parameters. Validating them here prevents
// path traversal and keeps garbage out of the cache keyspace.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches Renshuu identifiers: decimal digits only.
// Renshuu assigns numeric ids to both study lists and dictionary terms.
// Max length 12 comfortably covers the id space.
var idPattern = regexp.MustCompile(`^[0-9]{1,12}$`)

// ValidateListID validates a Renshuu study list id.
//
// Valid ids are 1-12 decimal digits. Returns an error describing the
// failure otherwise.
//
// Example:
//
//	if err := validation.ValidateListID(listID); err != nil {
//	    return fmt.Errorf("invalid list id: %w", err)
//	}
//	// Safe to interpolate into the lists/{id}/contents path
func ValidateListID(id string) error {
	if id == "" {
		return fmt.Errorf("list id cannot be empty")
	}

	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid list id format: %q (must be 1-12 decimal digits)", id)
	}

	return nil
}

// ValidateTermID validates a Renshuu dictionary term id. Term ids share
// the list id format.
func ValidateTermID(id string) error {
	if id == "" {
		return fmt.Errorf("term id cannot be empty")
	}

	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid term id format: %q (must be 1-12 decimal digits)", id)
	}

	return nil
}

// SanitizeListID trims whitespace and validates the result.
// Returns the cleaned id, or an error if it is not a valid list id.
//
// Use this on ids extracted from deck names, where clients are free to
// pad with spaces:
//
//	listID, err := validation.SanitizeListID(strings.SplitN(deckName, ":", 2)[0])
func SanitizeListID(id string) (string, error) {
	cleaned := strings.TrimSpace(id)
	if err := ValidateListID(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}
