// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - The default command: the full screen chat interface.
//
// Examples:
//   localchat                       Open the chat with the configured model
//   localchat -m mistral            Start with another model
//   localchat tui --resume 3f2a     Continue an archived conversation

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/config"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/chat"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/styles"
)

// TuiCmd opens the chat interface.
type TuiCmd struct {
	Resume  string `help:"Continue an archived conversation" placeholder:"ID"`
	System  string `short:"s" help:"System prompt for this conversation" placeholder:"TEXT"`
	NoWatch bool   `help:"Do not reload the config file when it changes"`
}

// Run starts the interface and blocks until the user quits.
func (c *TuiCmd) Run(g *Globals, cc *CliConfig) error {
	e, err := g.setup(cc, setupOptions{logFile: true, archive: true})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := e.newSession(c.System)
	if c.Resume != "" {
		if _, err := e.resume(ctx, sess, c.Resume); err != nil {
			return &CommandError{Command: "tui", Action: "resume", Err: err}
		}
	}

	// The interface starts without a server; each send reports its own
	// connection error.
	startupErr := e.client.CheckRunning(ctx)
	if startupErr != nil {
		e.log.Warn().Err(startupErr).Str("host", e.client.BaseURL()).Msg("ollama not reachable at startup")
	}

	m := chat.New(chat.Options{
		Session:    sess,
		Params:     e.params,
		StartupErr: startupErr,
		Lister:     e.client,
		Theme:      styles.NewTheme(e.cfg.UI.Theme),
		Markdown:   e.cfg.UI.Markdown,
		MaxFPS:     e.cfg.UI.MaxFPS,
		ShowStats:  e.cfg.UI.ShowStats,
		Logger:     &e.log,
	})
	p := chat.NewProgram(ctx, m, tea.WithInput(cc.Stdin), tea.WithOutput(cc.Stdout))

	if !c.NoWatch {
		if w := c.watchConfig(ctx, g, e, p); w != nil {
			defer w.Close()
		}
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat interface: %w", err)
	}

	if err := sess.Save(ctx); err != nil {
		e.log.Warn().Err(err).Msg("final save failed")
	}
	e.log.Info().
		Str("session", sess.ID()).
		Int("exchanges", sess.Status().Exchanges).
		Msg("chat closed")
	return nil
}

// watchConfig reloads sampling defaults and the system prompt into the
// running interface when the config file changes. Flags keep precedence.
func (c *TuiCmd) watchConfig(ctx context.Context, g *Globals, e *env, p *tea.Program) *config.Watcher {
	path, err := g.configPath()
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	w, err := config.Watch(ctx, path, config.DefaultDebounce, &e.log, func(cfg *config.Config, err error) {
		if err != nil {
			p.Send(chat.ConfigReloadedMsg{Err: err})
			return
		}
		g.applyFlags(cfg)
		params, err := cfg.SamplingDefaults()
		p.Send(chat.ConfigReloadedMsg{Params: params, SystemPrompt: cfg.UI.SystemPrompt, Err: err})
	})
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("config watch unavailable")
		return nil
	}
	return w
}
