// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer renders finished assistant turns with glamour. Turns are
// immutable once finalized, so output is cached by turn ID until the width
// changes.
type markdownRenderer struct {
	style   string
	enabled bool

	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

func newMarkdownRenderer(style string, enabled bool) *markdownRenderer {
	return &markdownRenderer{
		style:   style,
		enabled: enabled,
		cache:   make(map[string]string),
	}
}

// Render returns the rendered turn, or false when the plain body should be
// used instead.
func (r *markdownRenderer) Render(t model.Turn, width int) (string, bool) {
	if !r.enabled || width < 20 || strings.TrimSpace(t.Content) == "" {
		return "", false
	}
	if width != r.width || r.renderer == nil {
		if !r.rebuild(width) {
			return "", false
		}
	}
	if out, ok := r.cache[t.ID]; ok {
		return out, true
	}

	out, err := r.renderer.Render(t.Content)
	if err != nil {
		return "", false
	}
	out = strings.Trim(out, "\n")
	r.cache[t.ID] = out
	return out, true
}

// Clear drops cached output.
func (r *markdownRenderer) Clear() {
	clear(r.cache)
}

func (r *markdownRenderer) rebuild(width int) bool {
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r.enabled = false
		return false
	}
	r.renderer = tr
	r.width = width
	clear(r.cache)
	return true
}
