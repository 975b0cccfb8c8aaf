// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the localchat TUI.
//
// Colors are Lip Gloss AdaptiveColor values so the same palette works on
// light and dark terminals. A Theme groups the styles used by the chat view
// and picks the glamour style that matches the background.
//
// # Usage
//
//	theme := styles.NewTheme(cfg.UI.Theme)
//	theme.SetSize(width, height)
//	title := theme.HeaderTitle.Render("My Local GPT with Ollama")
//
// # Accessibility
//
// Status lines pair colors with ASCII indicators ([OK], [X], [!], [i]) so
// they stay readable without color.
package styles
