// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the connect service.
//
// This file contains the AnkiConnect protocol types: the request envelope,
// per-action parameter payloads, and the note shape Anki clients submit.
// The protocol quirk that shapes everything here: clients POST one JSON
// envelope to "/", successful replies are the bare result value, and every
// failure is an HTTP 200 carrying {"result": null, "error": "..."}.
package datatypes

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Protocol Constants
// =============================================================================

// ProtocolVersion is the AnkiConnect protocol version this bridge speaks.
// Clients negotiate by sending "version"; the reply is this constant.
const ProtocolVersion = 2

const (
	// MaxNotesPerRequest bounds canAddNotes batches. Yomitan probes in
	// modest batches; anything past this is a misbehaving client.
	MaxNotesPerRequest = 500

	// MaxFieldBytes bounds a single note field. Vocabulary terms are tiny;
	// the limit exists to stop memory exhaustion through the open port.
	MaxFieldBytes = 4 * 1024

	// MaxActionsPerMulti bounds the sub-actions of one multi request.
	MaxActionsPerMulti = 50
)

// Action names accepted by POST /.
const (
	ActionVersion                    = "version"
	ActionDeckNames                  = "deckNames"
	ActionModelNames                 = "modelNames"
	ActionModelFieldNames            = "modelFieldNames"
	ActionCanAddNotes                = "canAddNotes"
	ActionCanAddNotesWithErrorDetail = "canAddNotesWithErrorDetail"
	ActionAddNote                    = "addNote"
	ActionFindNotes                  = "findNotes"
	ActionStoreMediaFile             = "storeMediaFile"
	ActionMulti                      = "multi"
)

// Note field names fixed by the advertised model ("Default" /
// "with jmdictId").
const (
	FieldJapanese = "Japanese"
	FieldEnglish  = "English"
	FieldJmdictID = "jmdictId"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// ankiValidate is the validator instance for protocol datatypes.
// Initialized in init() with custom validators.
var ankiValidate *validator.Validate

func init() {
	ankiValidate = validator.New()

	_ = ankiValidate.RegisterValidation("fieldbytes", validateFieldBytes)
}

// validateFieldBytes checks every value of a note's fields map against
// MaxFieldBytes. Byte length, not rune count: the limit guards memory,
// and Japanese text is multi-byte.
func validateFieldBytes(fl validator.FieldLevel) bool {
	fields, ok := fl.Field().Interface().(map[string]string)
	if !ok {
		return false
	}
	for _, value := range fields {
		if len(value) > MaxFieldBytes {
			return false
		}
	}
	return true
}

// =============================================================================
// Request Envelope
// =============================================================================

// Envelope represents one AnkiConnect request body.
//
// # Description
//
// Every protocol request is a single JSON object naming an action, the
// protocol version, the caller's Renshuu API key, and an action-specific
// params payload. Params stays raw here; the dispatcher decodes it into
// the right parameter type once the action is known.
//
// # Fields
//
//   - Action: Required. One of the Action* constants; anything else is
//     answered with an "unsupported action" error envelope.
//   - Version: Required. Must equal ProtocolVersion (2).
//   - Key: The caller's Renshuu API key. Optional when the service is
//     configured with a fallback key; a key sent here always wins.
//   - Params: Raw action parameters, decoded per action.
//
// # Validation
//
// Uses go-playground/validator:
//   - Action: required
//   - Version: must equal 2
type Envelope struct {
	Action  string          `json:"action" validate:"required"`
	Version int             `json:"version" validate:"eq=2"`
	Key     string          `json:"key"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Validate validates the envelope fields.
func (e *Envelope) Validate() error {
	return ankiValidate.Struct(e)
}

// =============================================================================
// Notes
// =============================================================================

// Note is the note payload Anki clients submit.
//
// # Description
//
// Anki models do not map onto Renshuu, so the bridge advertises a fixed
// model whose fields it knows how to read: "Japanese" carries the term as
// "written/reading" (reading optional), "jmdictId" optionally pins the
// exact JMdict entry, and "English" is accepted but unused — Renshuu
// supplies its own glosses. DeckName selects the target study list; the
// text before the first ":" is the Renshuu list id (the deckNames action
// hands out names in exactly that shape). ModelName and Tags arrive from
// real clients and are deliberately ignored.
//
// # Examples
//
//	{"deckName": "12094:Textbook:Chapter 1",
//	 "modelName": "with jmdictId",
//	 "fields": {"Japanese": "勉強/べんきょう", "jmdictId": "1632350"}}
type Note struct {
	DeckName  string            `json:"deckName" validate:"required"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields" validate:"required,fieldbytes"`
	Tags      []string          `json:"tags,omitempty"`
}

// Validate validates the note fields.
func (n *Note) Validate() error {
	return ankiValidate.Struct(n)
}

// Japanese returns the written form: the text before the first "/" of
// the Japanese field.
func (n Note) Japanese() string {
	japanese, _, _ := strings.Cut(n.Fields[FieldJapanese], "/")
	return japanese
}

// Reading returns the kana reading: the text after the last "/" of the
// Japanese field, falling back to the written form when the reading part
// is empty or absent.
func (n Note) Reading() string {
	parts := strings.Split(n.Fields[FieldJapanese], "/")
	if last := parts[len(parts)-1]; last != "" {
		return last
	}
	return parts[0]
}

// JmdictID returns the JMdict sequence id, or "" when the note's model
// does not carry one.
func (n Note) JmdictID() string {
	return n.Fields[FieldJmdictID]
}

// ListID returns the Renshuu list id encoded in the deck name.
func (n Note) ListID() string {
	listID, _, _ := strings.Cut(n.DeckName, ":")
	return listID
}

// =============================================================================
// Per-Action Parameters
// =============================================================================

// NoteParams carries the addNote payload.
type NoteParams struct {
	Note Note `json:"note" validate:"required"`
}

// Validate validates the addNote parameters.
func (p *NoteParams) Validate() error {
	return ankiValidate.Struct(p)
}

// NotesParams carries the canAddNotes / canAddNotesWithErrorDetail payload.
type NotesParams struct {
	Notes []Note `json:"notes" validate:"required,min=1,max=500,dive"`
}

// Validate validates the batch parameters.
func (p *NotesParams) Validate() error {
	return ankiValidate.Struct(p)
}

// FindNotesParams carries the findNotes payload. An empty query is legal
// and matches nothing.
type FindNotesParams struct {
	Query string `json:"query"`
}

// MultiAction is one sub-action inside a multi request. Params stays raw
// until the sub-action is dispatched.
type MultiAction struct {
	Action string          `json:"action" validate:"required"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Envelope builds a standalone request envelope for this sub-action,
// carrying the outer request's key. Sub-actions in the wild never repeat
// the key, so the outer one is authoritative.
func (a MultiAction) Envelope(key string) Envelope {
	return Envelope{
		Action:  a.Action,
		Version: ProtocolVersion,
		Key:     key,
		Params:  a.Params,
	}
}

// MultiParams carries the multi payload.
type MultiParams struct {
	Actions []MultiAction `json:"actions" validate:"required,min=1,max=50,dive"`
}

// Validate validates the multi parameters.
func (p *MultiParams) Validate() error {
	return ankiValidate.Struct(p)
}

// =============================================================================
// Response Shapes
// =============================================================================

// ErrorEnvelope is the failure reply body. Failures ride HTTP 200 —
// AnkiConnect clients ignore the status line and look at "error".
type ErrorEnvelope struct {
	Result any    `json:"result"`
	Error  string `json:"error"`
}

// NewErrorEnvelope builds the {"result": null, "error": msg} reply.
func NewErrorEnvelope(message string) ErrorEnvelope {
	return ErrorEnvelope{Result: nil, Error: message}
}

// CanAddDetail is one canAddNotesWithErrorDetail verdict. Error is
// omitted entirely on the can-add case, matching what clients expect.
type CanAddDetail struct {
	CanAdd bool   `json:"canAdd"`
	Error  string `json:"error,omitempty"`
}
