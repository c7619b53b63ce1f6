// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package renshuu is a typed client for the Renshuu REST API (v1).
//
// Renshuu authenticates with a per-user Bearer key. The key travels with
// every bridge request rather than living in the client, so each method
// takes it as a parameter. The key is never logged and never recorded on
// spans; callers should treat it like a password.
package renshuu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrAlreadyScheduled reports that the term is already on the target list.
// Callers usually treat this as success: the desired end state holds.
var ErrAlreadyScheduled = errors.New("term already present in the schedule")

// alreadyScheduledMessage is the exact upstream error string for a
// duplicate add. Matching is string-equal; Renshuu has no error codes.
const alreadyScheduledMessage = "This term is already present in the schedule."

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is an error the Renshuu API reported in a response body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("renshuu API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("renshuu API error: %s", e.Message)
}

// ID decodes Renshuu identifiers that arrive as JSON numbers on some
// endpoints and JSON strings on others. null decodes to the empty ID.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*id = ID(value)
		return nil
	}
	var value json.Number
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*id = ID(value.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Term is one dictionary entry from word search or list contents.
type Term struct {
	ID           ID      `json:"id"`
	KanjiFull    string  `json:"kanji_full"`
	HiraganaFull string  `json:"hiragana_full"`
	EdictEnt     ID      `json:"edict_ent"`
	Aforms       []Aform `json:"aforms"`
}

// Aform is an alternative written form of a term.
type Aform struct {
	Term string `json:"term"`
}

// JapaneseForms returns every written form the term can match: all
// alternative forms plus the primary kanji form. A kana-only term
// matches on its reading alone.
func (t Term) JapaneseForms() []string {
	if t.KanjiFull == "" {
		return []string{t.HiraganaFull}
	}
	forms := make([]string, 0, len(t.Aforms)+1)
	for _, aform := range t.Aforms {
		forms = append(forms, aform.Term)
	}
	return append(forms, t.KanjiFull)
}

// Reading returns the kana reading of the term.
func (t Term) Reading() string { return t.HiraganaFull }

// ListInfo is one study list in the lists tree.
type ListInfo struct {
	ListID ID     `json:"list_id"`
	Title  string `json:"title"`
}

// ListGroup is a user-defined group of study lists.
type ListGroup struct {
	GroupTitle string     `json:"group_title"`
	Lists      []ListInfo `json:"lists"`
}

// TermtypeGroup partitions the lists tree by term type (vocab, kanji,
// grammar, ...). The bridge only consumes the vocab branch.
type TermtypeGroup struct {
	Termtype string      `json:"termtype"`
	Groups   []ListGroup `json:"groups"`
}

// ListsResponse is the GET lists payload.
type ListsResponse struct {
	TermtypeGroups []TermtypeGroup `json:"termtype_groups"`
}

// SearchResponse is the GET word/search payload.
type SearchResponse struct {
	Words []Term `json:"words"`
}

// ContentTerm is one entry in a list contents page. Lists mix vocab with
// kanji, grammar, and sentence entries; the entry kinds are told apart by
// which keys are present, so the discriminating fields are pointers.
type ContentTerm struct {
	ID           *ID     `json:"id"`
	KanjiFull    *string `json:"kanji_full"`
	HiraganaFull *string `json:"hiragana_full"`
	Kanji        *string `json:"kanji"`
	TitleEnglish *string `json:"title_english"`
	Japanese     *string `json:"japanese"`
	EdictEnt     ID      `json:"edict_ent"`
	Aforms       []Aform `json:"aforms"`
}

// IsVocab reports whether the entry is a vocab term: it carries the three
// vocab keys and none of the kanji/grammar/sentence markers.
func (t ContentTerm) IsVocab() bool {
	return t.ID != nil &&
		t.KanjiFull != nil &&
		t.HiraganaFull != nil &&
		t.Kanji == nil &&
		t.TitleEnglish == nil &&
		t.Japanese == nil
}

// AsTerm converts a vocab entry to a Term. Call IsVocab first; non-vocab
// entries convert with empty fields.
func (t ContentTerm) AsTerm() Term {
	term := Term{
		EdictEnt: t.EdictEnt,
		Aforms:   t.Aforms,
	}
	if t.ID != nil {
		term.ID = *t.ID
	}
	if t.KanjiFull != nil {
		term.KanjiFull = *t.KanjiFull
	}
	if t.HiraganaFull != nil {
		term.HiraganaFull = *t.HiraganaFull
	}
	return term
}

// ListContents is one page of list members.
type ListContents struct {
	Terms   []ContentTerm `json:"terms"`
	TotalPg int           `json:"total_pg"`
}

// ListContentsResponse is the GET lists/{id}/contents payload.
type ListContentsResponse struct {
	Contents ListContents `json:"contents"`
	NumTerms int          `json:"num_terms"`
}

// Client is the Renshuu API surface the bridge consumes.
//
// # Description
//
// Every method takes the caller's API key; the client holds transport
// concerns (rate limit, timeout) but no credentials. Upstream error
// bodies surface as *APIError, except the duplicate-add message which
// maps to ErrAlreadyScheduled.
type Client interface {
	// GetLists returns the study lists tree visible to the key.
	GetLists(ctx context.Context, key string) (ListsResponse, error)

	// SearchWord searches the dictionary for a written form or reading.
	SearchWord(ctx context.Context, key, value string) (SearchResponse, error)

	// AddWordToList schedules a term on a study list.
	AddWordToList(ctx context.Context, key string, termID, listID string) error

	// GetListContents returns one page of a list's members. Pages are
	// 1-based.
	GetListContents(ctx context.Context, key, listID string, page int) (ListContentsResponse, error)
}
