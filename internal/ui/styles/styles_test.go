// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// THEME CREATION TESTS
// =============================================================================

func TestNewTheme_ForcedModes(t *testing.T) {
	dark := NewTheme("dark")
	if !dark.IsDark {
		t.Error("NewTheme(dark) should be dark")
	}
	light := NewTheme("light")
	if light.IsDark {
		t.Error("NewTheme(light) should be light")
	}
}

func TestThemeInitStyles(t *testing.T) {
	theme := NewTheme("dark")

	styles := []struct {
		name  string
		style lipgloss.Style
	}{
		{"Header", theme.Header},
		{"UserBody", theme.UserBody},
		{"AssistantBody", theme.AssistantBody},
		{"Sidebar", theme.Sidebar},
		{"InputContainer", theme.InputContainer},
		{"StatusBar", theme.StatusBar},
		{"ButtonActive", theme.ButtonActive},
	}

	for _, s := range styles {
		t.Run(s.name, func(t *testing.T) {
			if !strings.Contains(s.style.Render("test"), "test") {
				t.Errorf("%s style should render its content", s.name)
			}
		})
	}
}

func TestGlamourStyle(t *testing.T) {
	theme := &Theme{ColorProfile: termenv.Ascii}
	if got := theme.GlamourStyle(); got != "notty" {
		t.Errorf("GlamourStyle() = %q, want notty", got)
	}

	theme = &Theme{ColorProfile: termenv.TrueColor, IsDark: true}
	if got := theme.GlamourStyle(); got != "dark" {
		t.Errorf("GlamourStyle() = %q, want dark", got)
	}

	theme.IsDark = false
	if got := theme.GlamourStyle(); got != "light" {
		t.Errorf("GlamourStyle() = %q, want light", got)
	}
}

// =============================================================================
// LAYOUT TESTS
// =============================================================================

func TestLayoutMode(t *testing.T) {
	tests := []struct {
		width   int
		mode    LayoutMode
		sidebar int
	}{
		{40, LayoutNarrow, 0},
		{79, LayoutNarrow, 0},
		{80, LayoutMedium, 34},
		{119, LayoutMedium, 34},
		{160, LayoutWide, 42},
	}

	theme := &Theme{}
	for _, tc := range tests {
		theme.SetSize(tc.width, 40)
		if got := theme.GetLayoutMode(); got != tc.mode {
			t.Errorf("width %d: GetLayoutMode() = %v, want %v", tc.width, got, tc.mode)
		}
		if got := theme.SidebarWidth(); got != tc.sidebar {
			t.Errorf("width %d: SidebarWidth() = %d, want %d", tc.width, got, tc.sidebar)
		}
	}
}

// =============================================================================
// ANIMATION TESTS
// =============================================================================

func TestSpinnerConfig(t *testing.T) {
	if got := DotsSpinner.Duration(); got != time.Second/6 {
		t.Errorf("Duration() = %v", got)
	}
	if got := (SpinnerConfig{}).Duration(); got != time.Second {
		t.Errorf("zero FPS Duration() = %v, want 1s", got)
	}

	sp := DotsSpinner.Bubble()
	if len(sp.Frames) != 6 || sp.FPS != time.Second/6 {
		t.Errorf("Bubble() = %+v", sp)
	}
}
