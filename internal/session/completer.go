// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one chat session: it owns the conversation and
// drives each exchange with the model.
package session

import (
	"context"
	"iter"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// FragmentStream is the reply of one completion request.
type FragmentStream interface {
	// Fragments yields reply fragments in order, then at most one error.
	// Stopping early cancels the request.
	Fragments() iter.Seq2[string, error]

	// Close abandons the request. It is safe to call more than once.
	Close() error
}

// Completer opens completion streams. Stream must fail before returning
// when the endpoint cannot be reached.
type Completer interface {
	Stream(ctx context.Context, history []model.Turn, cfg sampling.Config) (FragmentStream, error)
}

// Sink receives fragments as they are produced, for live rendering.
type Sink interface {
	Fragment(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string)

// Fragment calls f(text).
func (f SinkFunc) Fragment(text string) {
	f(text)
}

// Archiver persists transcripts.
type Archiver interface {
	Save(ctx context.Context, t storage.Transcript) error
}

// statsProvider is implemented by streams that report timing statistics.
type statsProvider interface {
	Stats() ollama.StreamStats
}

// =============================================================================
// OLLAMA ADAPTER
// =============================================================================

type ollamaCompleter struct {
	client *ollama.Client
}

// NewOllamaCompleter returns a Completer backed by an Ollama client.
func NewOllamaCompleter(client *ollama.Client) Completer {
	return ollamaCompleter{client: client}
}

func (c ollamaCompleter) Stream(ctx context.Context, history []model.Turn, cfg sampling.Config) (FragmentStream, error) {
	s, err := c.client.Stream(ctx, history, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
