// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides small shared utilities for renshuu-connect.
package util

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a thread-safe, fixed-size circular buffer that drops the
// oldest item when full.
//
// # Description
//
// RingBuffer backs the in-memory log window served by the showlog page:
// producers push log lines at whatever rate they arrive, and the buffer
// keeps only the most recent Cap() of them. Dropping old entries is the
// point; the buffer never grows and never blocks.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Snapshot methods return copies,
// so callers can iterate without holding any lock.
//
// # Example
//
//	ring := util.NewRingBuffer[string](100)
//	ring.Push("request started")
//	for _, line := range ring.Tail(10) {
//	    fmt.Println(line)
//	}
type RingBuffer[T any] struct {
	items   []T
	head    int
	size    int
	dropped int64
	mu      sync.Mutex
}

// NewRingBuffer creates an empty buffer holding up to capacity items.
//
// Memory for the full capacity is allocated up front so Push never
// allocates. Panics if capacity <= 0.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
	}
}

// Push appends an item, evicting the oldest one if the buffer is full.
// Returns true when an eviction happened.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.items)
	evicted := false

	if r.size == capacity {
		r.head = (r.head + 1) % capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
		evicted = true
	}

	r.items[(r.head+r.size)%capacity] = item
	r.size++
	return evicted
}

// ToSlice returns a copy of the buffered items, oldest first.
// Returns nil when the buffer is empty.
func (r *RingBuffer[T]) ToSlice() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked(r.size)
}

// Tail returns a copy of the newest n items, oldest first.
// Returns all items when n exceeds the current size, nil when n <= 0
// or the buffer is empty.
func (r *RingBuffer[T]) Tail(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	return r.copyLocked(n)
}

// copyLocked copies the newest n items oldest-first. Caller holds mu.
func (r *RingBuffer[T]) copyLocked(n int) []T {
	if n == 0 {
		return nil
	}

	capacity := len(r.items)
	out := make([]T, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%capacity]
	}
	return out
}

// Len returns the current number of buffered items.
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.items) // immutable after construction
}

// DroppedCount returns how many items have been evicted since the last
// Clear. Lock-free.
func (r *RingBuffer[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Clear empties the buffer and resets the eviction counter. Internal
// references are zeroed so evicted items can be collected.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
	atomic.StoreInt64(&r.dropped, 0)
}
