// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP handlers for the connect service.
//
// The protocol surface is a single endpoint: AnkiConnect clients POST one
// JSON envelope to "/" and the action name inside selects the operation.
// Two conventions from that protocol shape everything here:
//
//   - Success replies are the bare result value (2, ["a","b"], 1, null),
//     never a wrapper object.
//   - Failures are HTTP 200 carrying {"result": null, "error": "..."}.
//     Clients treat non-200 statuses as "Anki is not running" and give up,
//     so protocol errors must never surface as real status codes.
//
// The side surfaces (health, about, log page, cache administration) are
// ordinary HTTP and use real status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/renshuu-connect/services/connect/datatypes"
	"github.com/AleutianAI/renshuu-connect/services/connect/middleware"
	"github.com/AleutianAI/renshuu-connect/services/connect/observability"
	"github.com/AleutianAI/renshuu-connect/services/connect/services"
	"github.com/AleutianAI/renshuu-connect/services/connect/telemetry"
	"github.com/AleutianAI/renshuu-connect/services/renshuu"
)

// handlersTracer is the OpenTelemetry tracer for handler spans.
var handlersTracer = otel.Tracer("aleutian.connect.handlers")

// errUnsupportedAction marks actions the dispatcher does not implement.
// The wrapped message is part of the wire contract: clients display it
// verbatim when they probe for capabilities the bridge lacks.
var errUnsupportedAction = errors.New("unsupported action")

// Model names advertised to clients. Both models read the same fields;
// "with jmdictId" signals that the jmdictId field pins the exact JMdict
// entry during term matching.
var (
	modelNames      = []string{"Default", "with jmdictId"}
	modelFieldNames = []string{datatypes.FieldJapanese, datatypes.FieldEnglish, datatypes.FieldJmdictID}
)

// HandleActions returns the POST / handler: the AnkiConnect dispatch.
//
// # Description
//
// Binds the request envelope, dispatches on the action name, and replies
// in protocol shape. Every failure path, from malformed JSON to upstream
// rejections, answers HTTP 200 with an error envelope.
//
// # Inputs
//
//   - bridge: The note/cache orchestration layer. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler ready for route registration
//
// # Limitations
//
//   - The request body is decoded regardless of Content-Type; real
//     clients send text/plain as often as application/json.
func HandleActions(bridge *services.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleActions")
		defer span.End()

		started := time.Now()

		var env datatypes.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			// Binding failures still answer 200; clients read the
			// error field, not the status line.
			replyProtocolError(ctx, c, span, env.Action, started, fmt.Errorf("malformed request: %w", err))
			return
		}
		span.SetAttributes(attribute.String("anki.action", env.Action))

		result, err := dispatchAction(ctx, bridge, env, false)
		if err != nil {
			replyProtocolError(ctx, c, span, env.Action, started, err)
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordAction(env.Action, true)
			m.RecordDuration(env.Action, time.Since(started).Seconds())
		}
		c.JSON(http.StatusOK, result)
	}
}

// dispatchAction runs one envelope and returns its bare result. The
// nested flag is set when the envelope came out of a multi request, the
// one action that must not recurse into itself.
func dispatchAction(ctx context.Context, bridge *services.Bridge, env datatypes.Envelope, nested bool) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	switch env.Action {
	case datatypes.ActionVersion:
		return datatypes.ProtocolVersion, nil

	case datatypes.ActionDeckNames:
		decks, err := bridge.DeckNames(ctx, env.Key)
		if err != nil {
			return nil, err
		}
		return decks, nil

	case datatypes.ActionModelNames:
		return modelNames, nil

	case datatypes.ActionModelFieldNames:
		return modelFieldNames, nil

	case datatypes.ActionCanAddNotes:
		var params datatypes.NotesParams
		if err := decodeParams(env, &params); err != nil {
			return nil, err
		}
		if len(params.Notes) == 0 {
			return []bool{}, nil
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s params: %w", env.Action, err)
		}
		return bridge.CanAddNotes(params.Notes), nil

	case datatypes.ActionCanAddNotesWithErrorDetail:
		var params datatypes.NotesParams
		if err := decodeParams(env, &params); err != nil {
			return nil, err
		}
		if len(params.Notes) == 0 {
			return []datatypes.CanAddDetail{}, nil
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s params: %w", env.Action, err)
		}
		details, err := bridge.CanAddNotesWithErrorDetail(ctx, params.Notes)
		if err != nil {
			return nil, err
		}
		return details, nil

	case datatypes.ActionAddNote:
		var params datatypes.NoteParams
		if err := decodeParams(env, &params); err != nil {
			return nil, err
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s params: %w", env.Action, err)
		}
		matched, err := bridge.AddNote(ctx, env.Key, params.Note)
		if err != nil {
			return nil, err
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordNoteAdded(matched)
		}
		if !matched {
			// No Renshuu term matched the note. The protocol result
			// for "could not add" is null, not an error.
			return nil, nil
		}
		return 1, nil

	case datatypes.ActionFindNotes:
		// An absent params object is an empty query, which legally
		// matches nothing.
		var params datatypes.FindNotesParams
		if len(env.Params) > 0 {
			if err := json.Unmarshal(env.Params, &params); err != nil {
				return nil, fmt.Errorf("invalid %s params: %w", env.Action, err)
			}
		}
		ids, err := bridge.FindNotes(ctx, params.Query)
		if err != nil {
			return nil, err
		}
		return ids, nil

	case datatypes.ActionStoreMediaFile:
		// Accepted and discarded: Renshuu hosts no client media.
		return "", nil

	case datatypes.ActionMulti:
		if nested {
			return nil, errors.New("multi actions cannot be nested")
		}
		var params datatypes.MultiParams
		if err := decodeParams(env, &params); err != nil {
			return nil, err
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s params: %w", env.Action, err)
		}
		results := make([]any, 0, len(params.Actions))
		for _, sub := range params.Actions {
			subResult, err := dispatchAction(ctx, bridge, sub.Envelope(env.Key), true)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordAction(sub.Action, err == nil)
			}
			if err != nil {
				// A failed sub-action becomes an error envelope in
				// its slot; the rest of the batch still runs.
				results = append(results, datatypes.NewErrorEnvelope(err.Error()))
				continue
			}
			results = append(results, subResult)
		}
		return results, nil

	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedAction, env.Action)
	}
}

// decodeParams unmarshals the envelope's raw params into dst. A missing
// params object is an error here; actions that tolerate absent params
// decode by hand.
func decodeParams(env datatypes.Envelope, dst any) error {
	if len(env.Params) == 0 {
		return fmt.Errorf("action %q requires params", env.Action)
	}
	if err := json.Unmarshal(env.Params, dst); err != nil {
		return fmt.Errorf("invalid %s params: %w", env.Action, err)
	}
	return nil
}

// replyProtocolError answers err in protocol shape and records it on the
// span, the metrics, and the log, all tagged with the action name.
func replyProtocolError(ctx context.Context, c *gin.Context, span trace.Span, action string, started time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	label := actionLabel(action)
	code := classifyError(err)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordAction(label, false)
		m.RecordDuration(label, time.Since(started).Seconds())
		m.RecordError(label, code)
	}

	telemetry.LoggerWithTrace(ctx, slog.Default()).Error("action failed",
		"action", label,
		"error", err,
		"error_code", string(code),
		"request_id", middleware.GetRequestID(c),
	)

	c.JSON(http.StatusOK, datatypes.NewErrorEnvelope(err.Error()))
}

// classifyError buckets an error for the errors_total metric.
func classifyError(err error) observability.ErrorCode {
	var apiErr *renshuu.APIError
	var validationErrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, errUnsupportedAction):
		return observability.ErrorCodeUnsupported
	case errors.Is(err, services.ErrNoAPIKey):
		return observability.ErrorCodeMissingKey
	case errors.As(err, &apiErr):
		return observability.ErrorCodeUpstream
	case errors.As(err, &validationErrs), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return observability.ErrorCodeValidation
	default:
		return observability.ErrorCodeInternal
	}
}

// actionLabel keeps metric labels non-empty when the envelope never
// decoded far enough to name an action.
func actionLabel(action string) string {
	if action == "" {
		return "unknown"
	}
	return action
}
