// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives finished chat transcripts in SQLite.
package storage

// Schema creates the archive tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	model      TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_id ON transcripts(session_id);

CREATE TABLE IF NOT EXISTS turns (
	transcript_id TEXT NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	id            TEXT NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (transcript_id, seq)
);
`

// SchemaVersion is recorded in the metadata table.
const SchemaVersion = "1"

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
