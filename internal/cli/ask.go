// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One prompt, one reply.
//
// The prompt comes from the arguments or, when there are none, from stdin.
// In a terminal the finished reply is rendered as markdown; piped output
// streams the raw text as it arrives.
//
// Examples:
//   localchat ask "Explain goroutines in two sentences"
//   git diff | localchat ask --system "Review this diff"
//   localchat ask --set temperature=0 --raw "Name three primes"

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/styles"
)

// AskCmd sends a single prompt.
type AskCmd struct {
	Prompt []string           `arg:"" optional:"" help:"Prompt text (read from stdin when omitted)"`
	System string             `short:"s" help:"System prompt for this request" placeholder:"TEXT"`
	Set    map[string]float64 `help:"Override a sampling parameter" placeholder:"KEY=VALUE"`
	Stop   []string           `help:"Stop sequence (repeatable)" placeholder:"TEXT"`
	Raw    bool               `short:"r" help:"Stream plain text even in a terminal"`
	Stats  bool               `help:"Print timing to stderr"`
	Save   bool               `help:"Archive the exchange"`
}

// readPrompt joins the arguments, or reads stdin when there are none.
func (c *AskCmd) readPrompt(in io.Reader) (string, error) {
	if len(c.Prompt) > 0 {
		return strings.Join(c.Prompt, " "), nil
	}
	if isTerminalReader(in) {
		return "", errors.New("no prompt: pass it as an argument or pipe it to stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

// Run sends the prompt and prints the reply.
func (c *AskCmd) Run(g *Globals, cc *CliConfig) error {
	prompt, err := c.readPrompt(cc.Stdin)
	if err != nil {
		return &UsageError{Err: err}
	}
	if session.NormalizePrompt(prompt) == "" {
		return &UsageError{Err: session.ErrEmptyPrompt}
	}

	e, err := g.setup(cc, setupOptions{archive: c.Save})
	if err != nil {
		return err
	}
	defer e.Close()

	params, err := applyOverrides(e.params, c.Set, c.Stop)
	if err != nil {
		return &UsageError{Err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	markdown := !c.Raw && e.cfg.UI.Markdown && isTerminalWriter(cc.Stdout)

	var last string
	sink := session.SinkFunc(func(fragment string) {
		last = fragment
		if !markdown {
			fmt.Fprint(cc.Stdout, fragment)
		}
	})
	if markdown {
		fmt.Fprint(cc.Stderr, RenderConditional(DimStyle, styles.ThinkingText+"..."))
	}

	sess := e.newSession(c.System)
	reply, sendErr := sess.Send(ctx, prompt, params, sink)

	if markdown {
		// Clear the thinking line.
		fmt.Fprint(cc.Stderr, "\r\x1b[K")
		if reply.Content != "" {
			fmt.Fprint(cc.Stdout, renderMarkdown(reply.Content, e.cfg.UI.Theme, GetTerminalWidth()))
		}
	} else if last != "" && !strings.HasSuffix(last, "\n") {
		fmt.Fprintln(cc.Stdout)
	}

	if c.Stats && sendErr == nil {
		fmt.Fprintln(cc.Stderr, RenderConditional(DimStyle, replyStats(reply)))
	}
	if c.Save && sendErr == nil {
		e.log.Debug().Str("transcript", sess.TranscriptID()).Msg("exchange archived")
	}

	if sendErr != nil && reply.Partial {
		fmt.Fprintln(cc.Stderr, RenderConditional(WarningStyle, "(reply incomplete)"))
	}
	if errors.Is(sendErr, context.Canceled) {
		return nil
	}
	return sendErr
}

// renderMarkdown renders content with glamour, falling back to the raw text.
func renderMarkdown(content, theme string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.NewTheme(theme).GlamourStyle()),
		glamour.WithWordWrap(max(width-4, MinTerminalWidth)),
	)
	if err != nil {
		return content + "\n"
	}
	out, err := r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}
