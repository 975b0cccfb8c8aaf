// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The client sends a conversation snapshot and a sampling configuration to
// /api/chat and exposes the reply as a lazy stream of text fragments.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Stream: forward-only fragment sequence for one request
//   - ConnectionError: the request failed before any fragment
//   - GenerationError: the server failed after streaming started
//
// # Usage
//
//	client := ollama.NewClient()
//	stream, err := client.Stream(ctx, conv.Snapshot(), cfg)
//	if err != nil {
//	    return err
//	}
//	for fragment, err := range stream.Fragments() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(fragment)
//	}
//
// Breaking out of the loop cancels the request. Failed calls are never
// retried by the client.
package ollama
