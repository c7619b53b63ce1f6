// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"sync"
	"time"
)

// AuditEvent captures one state-changing operation for later review.
//
// Event types used by the bridge:
//   - "note.add": a term was scheduled onto a Renshuu list
//   - "cache.drop": an operator dropped a list's cached memberships
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "cache.drop",
//	    Timestamp:    time.Now().UTC(),
//	    Action:       "delete",
//	    ResourceType: "list",
//	    ResourceID:   listID,
//	    Outcome:      "success",
//	    Metadata:     map[string]any{"deleted_count": n},
//	}
type AuditEvent struct {
	// EventType categorizes the event, "category.action" style.
	EventType string

	// Timestamp is when the event occurred, in UTC. Implementations
	// should fill it in when zero.
	Timestamp time.Time

	// Action is the operation attempted: "create", "delete", "update".
	Action string

	// ResourceType is the kind of resource involved: "term", "list".
	ResourceType string

	// ResourceID is the specific resource, when one applies.
	ResourceID string

	// Outcome is "success", "failure", or "skipped".
	Outcome string

	// Metadata holds event-specific details. Never put API keys here.
	Metadata map[string]any
}

// AuditLogger records state-changing events.
//
// Log is called on request paths and must return quickly; buffer and
// forward asynchronously if the sink is slow. Flush is called during
// graceful shutdown and should drain any buffer.
type AuditLogger interface {
	// Log records one event. Implementations should stamp a zero
	// Timestamp with time.Now().UTC().
	Log(ctx context.Context, event AuditEvent) error

	// Flush persists buffered events before shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events. The stock default.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error { return nil }

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)

// MemoryAuditLogger keeps events in memory. Tests assert against it.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

// Log appends the event, stamping a zero timestamp.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Flush is a no-op; events are already in memory.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error { return nil }

// Events returns a copy of the recorded events.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

var _ AuditLogger = (*MemoryAuditLogger)(nil)
