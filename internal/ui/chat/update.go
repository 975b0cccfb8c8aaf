// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if m.state == StateReady {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state == StateWaiting {
			m.refreshViewport(m.viewport.AtBottom())
		}
		return m, cmd

	case fragmentsMsg:
		return m.handleFragments(), nil

	case replyDoneMsg:
		return m.finishReply(msg)

	case resetDoneMsg:
		return m.handleResetDone(msg)

	case modelsMsg:
		return m.handleModels(msg), nil

	case ConfigReloadedMsg:
		return m.handleConfigReloaded(msg)

	case statusClearMsg:
		if msg.id == m.statusID {
			m.status = ""
		}
		return m, nil
	}

	return m, nil
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The stop sequence editor takes all keys until it is closed.
	if m.sidebar.Editing() {
		switch msg.Type {
		case tea.KeyEnter:
			m.params = m.sidebar.CommitStopEdit(m.params)
			m.log.Debug().Strs("stop", m.params.Stop()).Msg("stop sequences changed")
			return m, nil
		case tea.KeyEsc:
			m.sidebar.CancelStopEdit()
			return m, nil
		case tea.KeyCtrlC:
			return m.quit()
		}
		cmd := m.sidebar.UpdateEditor(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keyMap.Quit):
		return m.quit()

	case key.Matches(msg, m.keyMap.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keyMap.Cancel):
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		if m.state != StateReady {
			m.sess.Cancel()
			cmd := m.setStatus("Cancelling...")
			return m, cmd
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Reset):
		return m.resetChat()

	case key.Matches(msg, m.keyMap.SwitchFocus):
		return m.switchFocus(), nil

	case key.Matches(msg, m.keyMap.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keyMap.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}

	if key.Matches(msg, m.keyMap.Submit) {
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch {
	case key.Matches(msg, m.keyMap.Up):
		m.sidebar.Move(-1)
	case key.Matches(msg, m.keyMap.Down):
		m.sidebar.Move(1)
	case key.Matches(msg, m.keyMap.Decrease):
		m.params, err = m.sidebar.Adjust(m.params, -1)
	case key.Matches(msg, m.keyMap.Increase):
		m.params, err = m.sidebar.Adjust(m.params, 1)
	case key.Matches(msg, m.keyMap.Unset):
		m.params, err = m.sidebar.Unset(m.params)
	case key.Matches(msg, m.keyMap.Activate):
		if m.sidebar.OnReset() {
			return m.resetChat()
		}
		if m.sidebar.BeginStopEdit(m.params) {
			return m, nil
		}
		m.params, err = m.sidebar.Adjust(m.params, 1)
	}
	if err != nil {
		cmd := m.setStatus(err.Error())
		return m, cmd
	}
	return m, nil
}

func (m Model) switchFocus() Model {
	if m.focus == focusInput && sidebarWidthFor(m.theme) > 0 {
		m.focus = focusSidebar
		m.input.Blur()
		return m
	}
	m.focus = focusInput
	m.input.Focus()
	return m
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.state != StateReady {
		m.sess.Cancel()
	}
	return m, tea.Quit
}

// =============================================================================
// SENDING
// =============================================================================

// submit sends the input as the next prompt. Only one reply streams at a
// time; input typed meanwhile stays in the box.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.state != StateReady {
		cmd := m.setStatus("Wait for the reply to finish or press esc")
		return m, cmd
	}

	prompt := session.NormalizePrompt(m.input.Value())
	if prompt == "" {
		return m, nil
	}

	m.input.Reset()
	m.buffer.Reset()
	m.pendingPrompt = prompt
	m.replyStart = time.Now()
	m.lastErr = nil
	m.lastReply = nil
	m.state = StateWaiting
	m.sess.RecordActivity()
	m.refreshViewport(true)

	return m, tea.Batch(m.sendCmd(prompt), m.spinner.Tick)
}

// handleFragments repaints the live assistant turn from the conversation.
func (m Model) handleFragments() Model {
	if _, ok := m.buffer.Flush(); !ok {
		return m
	}
	if m.state == StateWaiting {
		m.state = StateStreaming
		m.pendingPrompt = ""
	}
	m.refreshViewport(m.viewport.AtBottom())
	return m
}

// finishReply records the outcome of an exchange. A connection failure
// leaves the conversation unchanged, so the prompt goes back into the input.
func (m Model) finishReply(msg replyDoneMsg) (tea.Model, tea.Cmd) {
	atBottom := m.viewport.AtBottom() || m.state == StateWaiting
	m.buffer.Flush()
	m.buffer.Reset()
	m.state = StateReady
	m.pendingPrompt = ""

	var cmd tea.Cmd
	err := msg.err
	switch {
	case err == nil:
		m.lastReply = &msg.reply

	case errors.Is(err, session.ErrReset):
		// The conversation is gone; nothing to report.

	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrEmptyPrompt):
		m.input.SetValue(msg.prompt)
		cmd = m.setStatus(err.Error())

	case errors.Is(err, context.Canceled):
		if msg.reply.Partial {
			m.lastReply = &msg.reply
		} else {
			m.restorePrompt(msg.prompt)
		}
		cmd = m.setStatus("Reply cancelled")

	case ollama.IsConnectionError(err):
		m.lastErr = err
		m.restorePrompt(msg.prompt)
		m.log.Warn().Err(err).Msg("request failed")

	default:
		m.lastErr = err
		m.lastReply = &msg.reply
		m.log.Warn().Err(err).Msg("reply failed")
	}

	m.refreshViewport(atBottom)
	if m.focus == focusInput {
		m.input.Focus()
	}
	return m, cmd
}

// restorePrompt puts an unsent prompt back unless something new was typed.
func (m *Model) restorePrompt(prompt string) {
	if m.input.Value() == "" {
		m.input.SetValue(prompt)
	}
}

// =============================================================================
// RESET
// =============================================================================

// resetChat archives and clears the conversation, cancelling a reply in
// progress.
func (m Model) resetChat() (tea.Model, tea.Cmd) {
	m.lastReply = nil
	m.lastErr = nil
	m.pendingPrompt = ""
	m.markdown.Clear()
	return m, resetCmd(m.sess)
}

func (m Model) handleResetDone(msg resetDoneMsg) (tea.Model, tea.Cmd) {
	m.refreshViewport(true)
	if msg.err != nil {
		m.log.Warn().Err(msg.err).Msg("archiving transcript failed")
		cmd := m.setStatus("Chat reset; transcript not saved: " + msg.err.Error())
		return m, cmd
	}
	cmd := m.setStatus("Chat reset")
	return m, cmd
}

// =============================================================================
// MODELS / CONFIG
// =============================================================================

// handleModels adds installed models to the selector, after the catalog.
func (m Model) handleModels(msg modelsMsg) Model {
	if msg.err != nil {
		m.log.Debug().Err(msg.err).Msg("listing models failed")
		return m
	}
	ids := append([]string(nil), m.sidebar.Models()...)
	for _, info := range msg.models {
		ids = append(ids, info.Name)
	}
	m.sidebar.SetModels(ids)
	return m
}

// handleConfigReloaded applies sampling defaults from a changed config file.
func (m Model) handleConfigReloaded(msg ConfigReloadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.log.Warn().Err(msg.Err).Msg("config reload rejected")
		cmd := m.setStatus("Config not reloaded: " + msg.Err.Error())
		return m, cmd
	}
	m.params = msg.Params
	m.sess.SetSystemPrompt(msg.SystemPrompt)
	ids := append([]string(nil), m.sidebar.Models()...)
	m.sidebar.SetModels(append(ids, msg.Params.Model()))
	m.log.Info().Str("model", msg.Params.Model()).Msg("config reloaded")
	cmd := m.setStatus("Config reloaded")
	return m, cmd
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	if sidebarWidthFor(m.theme) == 0 && m.focus == focusSidebar {
		m.focus = focusInput
		m.input.Focus()
	}

	m.input.SetWidth(max(m.chatWidth()-4, 10))
	m.help.Width = m.width

	m.viewport.Width = m.chatWidth()
	m.viewport.Height = m.viewportHeight()
	m.refreshViewport(true)
	return m
}

// chatWidth is the width left of the sidebar.
func (m Model) chatWidth() int {
	return max(m.width-sidebarWidthFor(m.theme), 20)
}

// viewportHeight is the height left for the conversation.
func (m Model) viewportHeight() int {
	// header + input box + status bar
	used := headerHeight + m.input.Height() + 2 + statusHeight
	return max(m.height-used, 3)
}

// refreshViewport re-renders the conversation into the viewport.
func (m *Model) refreshViewport(gotoBottom bool) {
	m.viewport.SetContent(m.renderConversation(m.viewport.Width))
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

// setStatus shows a temporary status message.
func (m *Model) setStatus(text string) tea.Cmd {
	m.statusID++
	m.status = text
	return clearStatusCmd(m.statusID)
}
