// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrStreamClosed is returned by Next after the consumer closed the stream.
var ErrStreamClosed = errors.New("stream closed")

// ConnectionError reports that a request failed before any fragment was
// produced: the server was unreachable or rejected the request.
type ConnectionError struct {
	URL     string
	Status  int // HTTP status, 0 when no response was received
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	msg := "cannot reach Ollama at " + e.URL
	if e.Status != 0 {
		msg = fmt.Sprintf("Ollama rejected the request (%d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// GenerationError reports a failure after streaming started. Fragments
// already returned stay valid.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return "generation failed: " + e.Message + ": " + e.Cause.Error()
	}
	return "generation failed: " + e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// IsConnectionError checks if err happened before streaming started.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsGenerationError checks if err happened mid-stream.
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}

// IsModelNotFound checks if the server rejected the request for an unknown model.
func IsModelNotFound(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Status == 404
}
