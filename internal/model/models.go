// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation log and the turns it holds.
package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a model offered in the model selector.
type ModelInfo struct {
	// ID is the Ollama model tag sent in requests
	ID string `json:"id"`

	// Name is the human-readable display name
	Name string `json:"name"`

	// Family groups related models (llama, mistral, deepseek)
	Family string `json:"family"`

	// ContextWindow is the maximum context the model supports
	ContextWindow int `json:"context_window"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description"`
}

// DefaultModel is preselected in the model selector.
const DefaultModel = "llama3.1"

// Catalog lists the selectable models in display order.
var Catalog = []ModelInfo{
	{
		ID:            "deepseek-v3.1",
		Name:          "DeepSeek V3.1",
		Family:        "deepseek",
		ContextWindow: 128000,
		Description:   "Large mixture-of-experts model with hybrid thinking",
	},
	{
		ID:            "llama3.1",
		Name:          "Llama 3.1",
		Family:        "llama",
		ContextWindow: 128000,
		Description:   "General purpose chat model",
	},
	{
		ID:            "mistral",
		Name:          "Mistral 7B",
		Family:        "mistral",
		ContextWindow: 32000,
		Description:   "Small, fast instruction model",
	},
}

// =============================================================================
// LOOKUP
// =============================================================================

// LookupModel returns catalog information for an ID. Tags such as
// "llama3.1:8b" resolve to their base entry.
func LookupModel(id string) (ModelInfo, bool) {
	base := strings.ToLower(id)
	if i := strings.IndexByte(base, ':'); i >= 0 {
		base = base[:i]
	}
	for _, m := range Catalog {
		if m.ID == base {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// CatalogIDs returns the model IDs in display order.
func CatalogIDs() []string {
	ids := make([]string, len(Catalog))
	for i, m := range Catalog {
		ids[i] = m.ID
	}
	return ids
}

// CatalogIndex returns the position of id in the catalog, or -1.
func CatalogIndex(id string) int {
	for i, m := range Catalog {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// ContextString returns a short form of the context window ("128K").
func (m ModelInfo) ContextString() string {
	switch {
	case m.ContextWindow >= 1000000:
		return fmt.Sprintf("%dM", m.ContextWindow/1000000)
	case m.ContextWindow >= 1000:
		return fmt.Sprintf("%dK", m.ContextWindow/1000)
	default:
		return fmt.Sprintf("%d", m.ContextWindow)
	}
}
