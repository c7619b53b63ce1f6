// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/renshuu-connect/pkg/util"
)

// DefaultRingCapacity is how many log lines the showlog page keeps.
const DefaultRingCapacity = 100

// RingHandler is a slog.Handler that keeps the most recent log lines in
// a fixed-size in-memory buffer.
//
// # Description
//
// The showlog page ("GET /?showlog=1") serves whatever the service
// logged recently, without requiring volume access or docker exec. The
// handler formats each record as a single plain-text line and pushes it
// into a ring buffer; when the buffer is full the oldest line falls out.
//
// Formatted lines look like:
//
//	2025-08-25 09:14:02 INFO note added list_id=12094 term_id=8134
//
// # Thread Safety
//
// Safe for concurrent use. Handle serializes formatting per record and
// the underlying ring is itself synchronized. Lines and Tail return
// copies.
type RingHandler struct {
	ring  *util.RingBuffer[string]
	level slog.Level
	attrs string
	group string
}

var _ slog.Handler = (*RingHandler)(nil)

// NewRingHandler creates a RingHandler holding up to capacity lines at
// or above the given level. Panics if capacity <= 0.
func NewRingHandler(capacity int, level Level) *RingHandler {
	return &RingHandler{
		ring:  util.NewRingBuffer[string](capacity),
		level: level.toSlogLevel(),
	}
}

// Enabled reports whether the record level clears the ring's minimum.
func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats the record as one line and pushes it into the ring.
func (h *RingHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a)
		return true
	})
	h.ring.Push(b.String())
	return nil
}

// WithAttrs returns a RingHandler sharing the same ring with the attrs
// pre-rendered onto every line.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		next.appendAttr(&b, a)
	}
	next.attrs = b.String()
	return &next
}

// WithGroup returns a RingHandler that prefixes subsequent attr keys
// with the group name. The ring is shared.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if next.group != "" {
		next.group += "."
	}
	next.group += name
	return &next
}

// appendAttr renders " key=value" with any group prefix applied.
func (h *RingHandler) appendAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if h.group != "" {
		b.WriteString(h.group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	fmt.Fprintf(b, "%v", a.Value.Resolve().Any())
}

// Lines returns a copy of every buffered line, oldest first.
func (h *RingHandler) Lines() []string {
	return h.ring.ToSlice()
}

// Tail returns a copy of the newest n lines, oldest first.
func (h *RingHandler) Tail(n int) []string {
	return h.ring.Tail(n)
}

// Cap returns the ring capacity.
func (h *RingHandler) Cap() int {
	return h.ring.Cap()
}

// Writer returns an io.Writer that splits incoming bytes on newlines
// and pushes each complete line into the ring. Point gin.DefaultWriter
// here (via io.MultiWriter) so HTTP access lines land on the showlog
// page alongside structured entries.
func (h *RingHandler) Writer() io.Writer {
	return &ringLineWriter{ring: h.ring}
}

// ringLineWriter buffers partial writes until a newline arrives.
type ringLineWriter struct {
	ring    *util.RingBuffer[string]
	mu      sync.Mutex
	partial bytes.Buffer
}

// Write satisfies io.Writer. Never returns an error.
func (w *ringLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		line, err := w.partial.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it pending.
			w.partial.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			w.ring.Push(line)
		}
	}
	return len(p), nil
}
