// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/styles"
)

// Fixed layout heights.
const (
	headerHeight = 3
	statusHeight = 1
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat interface.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := m.renderHeader()

	main := m.viewport.View()
	if m.showHelp {
		main = m.renderHelp()
	}
	chatColumn := lipgloss.JoinVertical(lipgloss.Left, main, m.renderInput())

	body := chatColumn
	if w := sidebarWidthFor(m.theme); w > 0 {
		bodyHeight := m.viewportHeight() + m.input.Height() + 2
		panel := m.sidebar.View(m.theme, m.params, w, m.focus == focusSidebar, m.state != StateReady)
		panel = lipgloss.NewStyle().MaxHeight(bodyHeight).Render(panel)
		chatColumn = lipgloss.NewStyle().Width(m.chatWidth()).Render(chatColumn)
		body = lipgloss.JoinHorizontal(lipgloss.Top, chatColumn, panel)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusBar())
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render(Title)
	info := m.params.Model()
	if m.state != StateReady {
		info += "  " + m.state.String()
	}
	subtitle := m.theme.HeaderSubtitle.Render(info)

	// Border and padding take 6 columns.
	inner := max(m.width-6, 10)
	gap := inner - lipgloss.Width(title) - lipgloss.Width(subtitle)
	line := title
	if gap > 0 {
		line = title + strings.Repeat(" ", gap) + subtitle
	}
	return m.theme.Header.Width(m.width - 2).Render(line)
}

// =============================================================================
// CONVERSATION
// =============================================================================

// renderConversation renders every turn of the conversation, including the
// partial content of a reply that is still streaming.
func (m Model) renderConversation(width int) string {
	if width <= 0 {
		return ""
	}
	conv := m.sess.Conversation()
	turns := conv.Snapshot()
	live := conv.Streaming()

	var b strings.Builder
	// Errors still render below the placeholder: a failed first send
	// leaves the conversation empty.
	if len(turns) == 0 && m.pendingPrompt == "" {
		b.WriteString(m.theme.Muted.Render("Type a message and press enter. Tab opens the parameters."))
	}

	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		isLive := live && i == len(turns)-1
		if isLive && t.Content == "" {
			b.WriteString(m.renderLabel(t.Role))
			b.WriteString("\n")
			b.WriteString(m.renderThinking())
			continue
		}
		b.WriteString(m.renderTurn(t, width, isLive))
	}

	// The request is out but the server has not answered yet, so the user
	// turn is not recorded.
	if m.state != StateReady && !live && m.pendingPrompt != "" {
		if len(turns) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderTurn(model.UserTurn(m.pendingPrompt), width, true))
		b.WriteString("\n\n")
		b.WriteString(m.renderThinking())
	}

	if m.state == StateReady && m.lastReply != nil && m.lastReply.Partial {
		b.WriteString("\n")
		b.WriteString(m.theme.PartialNote.Render("(reply incomplete)"))
	}
	if m.lastErr != nil {
		b.WriteString("\n\n")
		b.WriteString(m.theme.ErrorStyle.Width(width).Render("Error: " + m.lastErr.Error()))
	}

	return b.String()
}

func (m Model) renderTurn(t model.Turn, width int, live bool) string {
	label := m.renderLabel(t.Role)
	bodyWidth := max(width-2, 10)

	if t.Role == model.RoleAssistant && !live {
		if out, ok := m.markdown.Render(t, bodyWidth); ok {
			return label + "\n" + out
		}
	}

	style := m.theme.AssistantBody
	switch t.Role {
	case model.RoleUser:
		style = m.theme.UserBody
	case model.RoleSystem:
		style = m.theme.Muted
	}
	return label + "\n" + style.Width(bodyWidth).Render(t.Content)
}

func (m Model) renderLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return m.theme.UserLabel.Render("You")
	case model.RoleSystem:
		return m.theme.SystemLabel.Render(role.DisplayName())
	default:
		return m.theme.AssistantLabel.Render(m.params.Model())
	}
}

func (m Model) renderThinking() string {
	return m.spinner.View() + " " + m.theme.Thinking.Render(styles.ThinkingText)
}

// =============================================================================
// INPUT
// =============================================================================

func (m Model) renderInput() string {
	style := m.theme.InputContainer
	if m.focus == focusInput {
		style = m.theme.InputFocused
	}
	return style.Width(m.chatWidth() - 2).Render(m.input.View())
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.status != "":
		left = m.theme.InfoStyle.Render(m.status)
	case m.showStats && m.lastReply != nil:
		left = m.renderStats(*m.lastReply)
	default:
		left = m.theme.Muted.Render(m.state.String())
	}

	m.help.Width = max(m.width-lipgloss.Width(left)-4, 0)
	right := m.help.ShortHelpView(m.keyMap.ShortHelp())

	gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	line := left
	if gap > 0 {
		line = left + strings.Repeat(" ", gap) + right
	}
	return m.theme.StatusBar.Width(m.width).MaxWidth(m.width).Render(line)
}

// renderStats summarises the last reply.
func (m Model) renderStats(r session.Reply) string {
	parts := []string{
		m.statsPair("time", session.FormatDuration(r.Elapsed)),
		m.statsPair("fragments", fmt.Sprintf("%d", r.Fragments)),
	}
	if r.Stats != nil && r.Stats.CompletionTokens > 0 && r.Stats.EvalDuration > 0 {
		rate := float64(r.Stats.CompletionTokens) / r.Stats.EvalDuration.Seconds()
		parts = append(parts,
			m.statsPair("tokens", fmt.Sprintf("%d", r.Stats.CompletionTokens)),
			m.statsPair("tok/s", fmt.Sprintf("%.1f", rate)),
		)
	}
	return strings.Join(parts, "  ")
}

func (m Model) statsPair(label, value string) string {
	return m.theme.StatsLabel.Render(label+" ") + m.theme.StatsValue.Render(value)
}

// =============================================================================
// HELP
// =============================================================================

func (m Model) renderHelp() string {
	h := m.help
	h.ShowAll = true
	h.Width = m.chatWidth()
	content := m.theme.SidebarTitle.Render("Keys") + "\n\n" + h.View(m.keyMap) +
		"\n\n" + m.theme.Muted.Render("Press esc to close")
	return lipgloss.NewStyle().
		Width(m.chatWidth()).
		Height(m.viewportHeight()).
		MaxHeight(m.viewportHeight()).
		Render(content)
}
