// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives finished chat transcripts in SQLite.
//
// A transcript is the turn list of one conversation together with the
// model it was held with. Transcripts are written when the user resets the
// chat and after each completed reply, so an interrupted session can be
// reviewed with `localchat history`.
//
// # Key Types
//
//   - Archive: SQLite-backed transcript store (pure Go driver, no cgo)
//   - Transcript: Serializable conversation with metadata
//   - TranscriptMeta: Lightweight metadata for listing
//
// # Usage
//
//	archive, err := storage.Open(storage.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//
//	metas, err := archive.List(ctx, 20)
//	t, err := archive.Load(ctx, metas[0].ID)
//
// # Storage Location
//
// The database lives at ~/.localchat/history.db unless configured otherwise.
package storage
