// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/styles"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/util"
)

// =============================================================================
// SIDEBAR ROWS
// =============================================================================

type rowKind int

const (
	rowModel rowKind = iota
	rowParam
	rowStop
	rowReset
)

type sidebarRow struct {
	kind rowKind
	spec sampling.Spec
}

// Sidebar is the parameter panel: a model selector, one control per
// sampling parameter and the "Reset chat" button. It edits an immutable
// sampling.Config by returning modified copies.
type Sidebar struct {
	rows     []sidebarRow
	selected int
	models   []string

	// Stop sequences are edited as comma separated text.
	editingStop bool
	stopInput   textinput.Model
}

// NewSidebar creates the panel offering the given models.
func NewSidebar(models []string) Sidebar {
	rows := []sidebarRow{{kind: rowModel}}
	for _, spec := range sampling.Specs {
		if spec.Kind == sampling.KindText {
			rows = append(rows, sidebarRow{kind: rowStop, spec: spec})
			continue
		}
		rows = append(rows, sidebarRow{kind: rowParam, spec: spec})
	}
	rows = append(rows, sidebarRow{kind: rowReset})

	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = "e.g. </s>, User:"
	ti.CharLimit = 256

	return Sidebar{
		rows:      rows,
		models:    append([]string(nil), models...),
		stopInput: ti,
	}
}

// SetModels replaces the selectable models, keeping their order and
// dropping duplicates.
func (s *Sidebar) SetModels(ids []string) {
	seen := make(map[string]bool, len(ids))
	s.models = s.models[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		s.models = append(s.models, id)
	}
}

// Models returns the selectable models.
func (s *Sidebar) Models() []string {
	return s.models
}

// Move changes the selected row, wrapping at both ends.
func (s *Sidebar) Move(delta int) {
	if s.editingStop {
		return
	}
	n := len(s.rows)
	s.selected = ((s.selected+delta)%n + n) % n
}

// OnReset reports whether the "Reset chat" button is selected.
func (s *Sidebar) OnReset() bool {
	return s.rows[s.selected].kind == rowReset
}

// Editing reports whether the stop sequence editor has focus.
func (s *Sidebar) Editing() bool {
	return s.editingStop
}

// =============================================================================
// EDITING
// =============================================================================

// Adjust moves the selected control n steps and returns the new config.
func (s *Sidebar) Adjust(cfg sampling.Config, n int) (sampling.Config, error) {
	row := s.rows[s.selected]
	switch row.kind {
	case rowModel:
		return cfg.WithModel(s.cycleModel(cfg.Model(), n)), nil
	case rowParam:
		return adjustParam(cfg, row.spec, n)
	default:
		return cfg, nil
	}
}

func (s *Sidebar) cycleModel(current string, n int) string {
	if len(s.models) == 0 {
		return current
	}
	idx := -1
	for i, m := range s.models {
		if m == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s.models[0]
	}
	k := len(s.models)
	return s.models[((idx+n)%k+k)%k]
}

// adjustParam nudges a numeric parameter. An unset optional parameter
// starts from its minimum; stepping below the minimum of a parameter whose
// default is unset (mirostat) clears it again.
func adjustParam(cfg sampling.Config, spec sampling.Spec, n int) (sampling.Config, error) {
	v, ok := cfg.Float(spec.Key)
	if !ok {
		if n < 0 {
			return cfg, nil
		}
		if spec.ZeroUnset {
			v = spec.Min
		} else {
			return cfg.With(spec.Key, spec.Min)
		}
	}
	if spec.DefaultUnset && v <= spec.Min && n < 0 {
		return cfg.Without(spec.Key)
	}
	return cfg.With(spec.Key, spec.Nudge(v, n))
}

// Unset clears the selected control when it is optional.
func (s *Sidebar) Unset(cfg sampling.Config) (sampling.Config, error) {
	row := s.rows[s.selected]
	if row.kind == rowModel || row.kind == rowReset || !row.spec.Optional {
		return cfg, nil
	}
	return cfg.Without(row.spec.Key)
}

// BeginStopEdit opens the stop sequence editor prefilled from cfg. It
// returns false when the selected row is not the stop row.
func (s *Sidebar) BeginStopEdit(cfg sampling.Config) bool {
	if s.rows[s.selected].kind != rowStop {
		return false
	}
	s.editingStop = true
	s.stopInput.SetValue(strings.Join(cfg.Stop(), ", "))
	s.stopInput.CursorEnd()
	s.stopInput.Focus()
	return true
}

// CommitStopEdit closes the editor and applies its text.
func (s *Sidebar) CommitStopEdit(cfg sampling.Config) sampling.Config {
	s.editingStop = false
	s.stopInput.Blur()
	return cfg.WithStop(sampling.ParseStop(s.stopInput.Value()))
}

// UpdateEditor forwards a message to the stop sequence editor.
func (s *Sidebar) UpdateEditor(msg tea.Msg) tea.Cmd {
	if !s.editingStop {
		return nil
	}
	var cmd tea.Cmd
	s.stopInput, cmd = s.stopInput.Update(msg)
	return cmd
}

// CancelStopEdit closes the editor without applying it.
func (s *Sidebar) CancelStopEdit() {
	s.editingStop = false
	s.stopInput.Blur()
}

// =============================================================================
// RENDERING
// =============================================================================

// View renders the panel for cfg within width columns.
func (s *Sidebar) View(theme *styles.Theme, cfg sampling.Config, width int, focused, busy bool) string {
	inner := width - 4
	if inner < 10 {
		inner = 10
	}

	var b strings.Builder
	b.WriteString(theme.SidebarTitle.Render("Parameters"))
	b.WriteString("\n")

	for i, row := range s.rows {
		selected := focused && i == s.selected
		switch row.kind {
		case rowModel:
			b.WriteString(s.renderLine(theme, "Model", cfg.Model(), inner, selected))
		case rowParam:
			b.WriteString(s.renderLine(theme, row.spec.Label, paramValue(cfg, row.spec), inner, selected))
		case rowStop:
			value := strings.Join(cfg.Stop(), ", ")
			if value == "" {
				value = "none"
			}
			if s.editingStop {
				s.stopInput.Width = inner - 2
				b.WriteString(theme.ParamLabel.Render(row.spec.Label) + "\n")
				b.WriteString(theme.ParamSelected.Render("> ") + s.stopInput.View())
			} else {
				b.WriteString(s.renderLine(theme, row.spec.Label, value, inner, selected))
			}
		case rowReset:
			b.WriteString("\n")
			button := theme.Button
			if selected {
				button = theme.ButtonActive
			}
			b.WriteString(button.Render("Reset chat"))
		}
		b.WriteString("\n")
	}

	if focused {
		if help := s.selectedHelp(); help != "" {
			b.WriteString("\n")
			b.WriteString(theme.ParamHelp.Width(inner).Render(help))
		}
	}
	if busy {
		b.WriteString("\n")
		b.WriteString(theme.Muted.Render("Changes apply to the next message"))
	}

	return theme.Sidebar.Width(width - 2).Render(strings.TrimRight(b.String(), "\n"))
}

func (s *Sidebar) renderLine(theme *styles.Theme, label, value string, width int, selected bool) string {
	valueWidth := util.StringWidth(value)
	labelWidth := width - valueWidth - 1
	if labelWidth < 4 {
		labelWidth = 4
	}
	label = util.PadRight(util.TruncateWidth(label, labelWidth), labelWidth)
	if selected {
		return theme.ParamSelected.Render(label + " " + value)
	}
	return theme.ParamLabel.Render(label) + " " + theme.ParamValue.Render(value)
}

func (s *Sidebar) selectedHelp() string {
	row := s.rows[s.selected]
	switch row.kind {
	case rowModel:
		return "Model used for the next message"
	case rowReset:
		return "Archive and clear the conversation"
	default:
		return row.spec.Help + " (" + row.spec.Range() + ")"
	}
}

// paramValue renders the current value of a parameter, "none" when unset.
func paramValue(cfg sampling.Config, spec sampling.Spec) string {
	v, ok := cfg.Float(spec.Key)
	if !ok {
		if spec.ZeroUnset {
			return "random"
		}
		return "none"
	}
	return spec.Format(v)
}

// sidebarWidthFor keeps the panel narrower than half the screen.
func sidebarWidthFor(theme *styles.Theme) int {
	w := theme.SidebarWidth()
	if w > theme.Width/2 {
		return 0
	}
	return w
}
