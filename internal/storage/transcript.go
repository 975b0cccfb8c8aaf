// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives finished chat transcripts in SQLite.
package storage

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/util"
)

// =============================================================================
// TRANSCRIPT TYPES
// =============================================================================

// Transcript is an archived conversation.
type Transcript struct {
	// Identity
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Turns in dialogue order
	Turns []model.Turn `json:"turns"`
}

// TranscriptMeta contains metadata for listing transcripts.
type TranscriptMeta struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
	Preview   string    `json:"preview"` // First user turn, single line
}

// defaultTitle derives a title from the first user turn.
func defaultTitle(turns []model.Turn) string {
	for _, t := range turns {
		if t.Role == model.RoleUser && strings.TrimSpace(t.Content) != "" {
			return util.TruncateRunes(util.SingleLine(t.Content), 50)
		}
	}
	return "New conversation"
}

// Preview returns the first user turn on one line, truncated to 80 runes.
func (t *Transcript) Preview() string {
	for _, turn := range t.Turns {
		if turn.Role == model.RoleUser && turn.Content != "" {
			return util.TruncateRunes(util.SingleLine(turn.Content), 80)
		}
	}
	return ""
}

// TurnCount returns the number of turns in the transcript.
func (t *Transcript) TurnCount() int {
	return len(t.Turns)
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the transcript as Markdown with role headings.
func (t *Transcript) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + t.Title + "\n\n")
	sb.WriteString("Model: " + t.Model + "  \n")
	sb.WriteString("Created: " + t.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, turn := range t.Turns {
		sb.WriteString("**" + turn.Role.DisplayName() + "** (" + turn.CreatedAt.Format("15:04") + "):\n\n")
		sb.WriteString(turn.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON exports the transcript as pretty-printed JSON.
func (t *Transcript) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList formats transcript metadata as a table for the terminal.
func FormatList(metas []TranscriptMeta) string {
	if len(metas) == 0 {
		return "No transcripts found."
	}

	var sb strings.Builder
	header := util.PadRight("ID", 10) + " " + util.PadRight("Updated", 17) + " " +
		util.PadRight("Model", 14) + " " + util.PadRight("Turns", 5) + " Title\n"
	rule := strings.Repeat("-", 72) + "\n"
	sb.WriteString(rule)
	sb.WriteString(header)
	sb.WriteString(rule)

	for _, m := range metas {
		sb.WriteString(util.PadRight(ShortID(m.ID), 10) + " " +
			util.PadRight(m.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(util.TruncateWidth(m.Model, 14), 14) + " " +
			util.PadRight(strconv.Itoa(m.TurnCount), 5) + " " +
			util.TruncateWidth(m.Title, 30) + "\n")
	}
	return sb.String()
}

// ShortID returns the first 8 characters of the random part of an ID.
// Prefix lookups in Load accept it.
func ShortID(id string) string {
	id = strings.TrimPrefix(id, "tr_")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
