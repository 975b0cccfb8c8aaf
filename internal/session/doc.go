// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one chat session: it owns the conversation and
// drives each exchange with the model.
//
// A Session sends the conversation history with a sampling configuration,
// forwards reply fragments to a display sink and records both turns. It
// archives transcripts when a storage archive is configured.
//
// # Key Types
//
//   - Session: owns a model.Conversation and runs Send/Reset
//   - Completer: opens fragment streams (NewOllamaCompleter wraps the client)
//   - Sink: receives fragments for live rendering
//   - Reply: content and statistics of a finished exchange
//
// # Usage
//
//	sess := session.New(session.Config{
//	    Completer: session.NewOllamaCompleter(client),
//	    Archive:   archive,
//	    Logger:    &log,
//	})
//	reply, err := sess.Send(ctx, "Why is the sky blue?", cfg, session.SinkFunc(func(s string) {
//	    fmt.Print(s)
//	}))
//
// # Failure Handling
//
// A request that fails before streaming leaves the conversation unchanged.
// A reply that fails or is cancelled mid-stream is kept with the content
// that arrived. Nothing is retried.
package session
