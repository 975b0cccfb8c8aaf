// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file implements the buffer between the reply goroutine and the
// render loop. Fragments arrive far faster than a terminal can repaint, so
// repaint requests are limited to a configured frame rate.
package chat

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches fragments for efficient rendering.
// Write reports when a repaint should be requested, which happens when
// either:
// 1. The batch size threshold is reached (e.g., 15 fragments)
// 2. The frame rate limiter allows another frame
//
// At most one repaint request is outstanding at a time; Flush clears it.
//
// Thread-safety: All operations are protected by a mutex since streaming
// happens in a goroutine while rendering happens in the main Bubble Tea loop.
type StreamingBuffer struct {
	mu         sync.Mutex
	buffer     strings.Builder
	tokenCount int
	total      int
	firstAt    time.Time
	notified   bool

	// Configuration
	batchSize int
	limiter   *rate.Limiter
}

// Defaults used when the configuration leaves a value unset.
const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// NewStreamingBuffer creates a streaming buffer repainting at most maxFPS
// times per second.
func NewStreamingBuffer(maxFPS int) *StreamingBuffer {
	return NewStreamingBufferWithConfig(defaultBatchSize, maxFPS)
}

// NewStreamingBufferWithConfig creates a streaming buffer with custom settings.
func NewStreamingBufferWithConfig(batchSize, maxFPS int) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > 120 {
		maxFPS = defaultMaxFPS
	}

	return &StreamingBuffer{
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Limit(maxFPS), 1),
	}
}

// Write adds a fragment to the buffer and reports whether the caller should
// request a repaint now.
func (sb *StreamingBuffer) Write(fragment string) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.total == 0 {
		sb.firstAt = time.Now()
	}
	sb.buffer.WriteString(fragment)
	sb.tokenCount++
	sb.total++

	if sb.notified {
		return false
	}
	if sb.tokenCount >= sb.batchSize || sb.limiter.Allow() {
		sb.notified = true
		return true
	}
	return false
}

// Flush returns the fragments accumulated since the last flush and clears
// the outstanding repaint request.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.notified = false
	if sb.buffer.Len() == 0 {
		return "", false
	}

	content := sb.buffer.String()
	sb.buffer.Reset()
	sb.tokenCount = 0
	return content, true
}

// Reset clears the buffer without flushing.
// Use this when starting a new reply.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.total = 0
	sb.firstAt = time.Time{}
	sb.notified = false
}

// Pending returns the number of fragments waiting to be flushed.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.tokenCount
}

// Total returns the number of fragments written since the last Reset.
func (sb *StreamingBuffer) Total() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.total
}

// FirstFragmentAt returns when the first fragment arrived, zero if none has.
func (sb *StreamingBuffer) FirstFragmentAt() time.Time {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.firstAt
}
