// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// fragmentsMsg wakes the render loop when buffered fragments are due.
type fragmentsMsg struct{}

// replyDoneMsg carries the outcome of one exchange.
type replyDoneMsg struct {
	prompt string
	reply  session.Reply
	err    error
}

// =============================================================================
// OLLAMA MESSAGES
// =============================================================================

// modelsMsg carries the models installed on the server.
type modelsMsg struct {
	models []ollama.ModelInfo
	err    error
}

// =============================================================================
// CONVERSATION MESSAGES
// =============================================================================

// resetDoneMsg reports that the conversation was reset. err is the archive
// error, if any; the reset itself always happens.
type resetDoneMsg struct {
	err error
}

// statusClearMsg clears a temporary status message if it is still current.
type statusClearMsg struct {
	id int
}

// ConfigReloadedMsg delivers a reloaded configuration file to a running
// chat. Err is set when the new file could not be loaded.
type ConfigReloadedMsg struct {
	Params       sampling.Config
	SystemPrompt string
	Err          error
}

// =============================================================================
// PROGRAM BRIDGE
// =============================================================================

// notifier forwards messages from the reply goroutine into the program.
// It is shared by pointer so copies of the Model reach the same program.
type notifier struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (n *notifier) set(send func(tea.Msg)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = send
}

// Send delivers msg when a program is attached, and drops it otherwise.
func (n *notifier) Send(msg tea.Msg) {
	n.mu.Lock()
	send := n.send
	n.mu.Unlock()
	if send != nil {
		send(msg)
	}
}
