// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines persistence contracts for the local word cache.
//
// The cache exists to keep the bridge off the Renshuu API: every word the
// service has ever resolved, and every (list, word) membership it has ever
// observed, is recorded here so repeat lookups cost a local SQLite read
// instead of an upstream search. The cache is a performance artifact, not
// a source of truth — Renshuu remains authoritative, and dropping a list's
// rows only forces the next request to re-fetch.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates a requested cache record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// Word is one cached Renshuu dictionary term.
//
// RenshuuID is Renshuu's term id and the primary key. Japanese holds the
// written form (kanji where one exists) and Reading the kana reading; the
// pair is how Anki clients identify a term, so lookups index on it. JmdictID
// is the JMdict sequence number when Renshuu reports one, empty otherwise —
// it is the strongest match key because it survives display-form variations.
type Word struct {
	RenshuuID string
	Japanese  string
	Reading   string
	JmdictID  string
}

// Summary reports cache size for the admin surfaces.
type Summary struct {
	Words       int64 `json:"words"`
	Lists       int64 `json:"lists"`
	Memberships int64 `json:"memberships"`
}

// Store persists cached words and list memberships.
//
// # Description
//
// Implementations back the bridge's duplicate detection and findNotes
// queries. All lookups that can miss return ErrNotFound rather than a
// driver-specific sentinel; callers never see sql.ErrNoRows.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the bridge issues
// parallel reads while warming lists.
type Store interface {
	// UpsertWord inserts or refreshes one word keyed by RenshuuID.
	// A later upsert with a non-empty JmdictID fills a previously
	// empty column; it never blanks one.
	UpsertWord(ctx context.Context, word Word) error

	// GetWordByJmdictID returns the word carrying the given JMdict id.
	GetWordByJmdictID(ctx context.Context, jmdictID string) (Word, error)

	// GetWordByForm returns the word with the given written form and reading.
	GetWordByForm(ctx context.Context, japanese, reading string) (Word, error)

	// AddListMembership records that a word is scheduled on a list.
	// Recording a pair that already exists returns ErrAlreadyExists;
	// callers treat that as success and may count it as a dedup.
	AddListMembership(ctx context.Context, listID, renshuuID string) error

	// HasListMembership reports whether the (list, word) pair is recorded.
	HasListMembership(ctx context.Context, listID, renshuuID string) (bool, error)

	// CountListMemberships returns how many words are recorded on a list.
	// A list with no rows counts zero; that is not an error.
	CountListMemberships(ctx context.Context, listID string) (int64, error)

	// DeleteListMemberships removes every membership row for a list and
	// returns how many rows went away. The words themselves stay cached.
	DeleteListMemberships(ctx context.Context, listID string) (int64, error)

	// FindTermIDs returns the numeric Renshuu ids of cached words whose
	// written form or reading matches any of the given terms, restricted
	// to the given lists when listIDs is non-empty. Non-numeric ids are
	// skipped; Anki clients expect integer note ids.
	FindTermIDs(ctx context.Context, listIDs, terms []string) ([]int64, error)

	// Summary reports total cached words, distinct lists, and memberships.
	Summary(ctx context.Context) (Summary, error)

	// Close releases the underlying database handle.
	Close() error
}
