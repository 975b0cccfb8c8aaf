// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line based chat REPL.
//
// Handles the "localchat chat" command for terminals where the full screen
// interface is not wanted. Replies stream straight to stdout.
//
// Examples:
//   localchat chat                     Chat with the configured model
//   localchat chat -m mistral          Use another model
//   localchat chat --set temperature=0.2
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /reset, /clear      Archive and clear the conversation
//   /params             Show the sampling parameters
//   /set KEY=VALUE      Change a parameter for the next messages
//   /unset KEY          Clear an optional parameter
//   /stop A,B           Set the stop sequences (empty clears)
//   /model [name]       Show or switch model
//   /models             List installed models
//   /system [text]      Show or change the system prompt
//   /save               Archive the conversation now
//   /status, /s         Show session statistics
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel the current reply
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/config"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/util"
)

// ChatCmd starts the line based chat.
type ChatCmd struct {
	Resume string             `help:"Continue an archived conversation" placeholder:"ID"`
	System string             `short:"s" help:"System prompt for this conversation" placeholder:"TEXT"`
	Set    map[string]float64 `help:"Override a sampling parameter" placeholder:"KEY=VALUE"`
	Stop   []string           `help:"Stop sequence (repeatable)" placeholder:"TEXT"`
	Stats  bool               `help:"Print timing after each reply"`
}

// =============================================================================
// INPUT
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history to file, readable by the owner only.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// COMMAND
// =============================================================================

// Run starts the REPL and blocks until the user exits.
func (c *ChatCmd) Run(g *Globals, cc *CliConfig) error {
	e, err := g.setup(cc, setupOptions{archive: true})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()

	if err := e.client.CheckRunning(ctx); err != nil {
		return err
	}

	sess := e.newSession(c.System)
	if c.Resume != "" {
		t, err := e.resume(ctx, sess, c.Resume)
		if err != nil {
			return &CommandError{Command: "chat", Action: "resume", Err: err}
		}
		fmt.Fprintf(cc.Stdout, "%s %s (%d turns)\n",
			RenderConditional(DimStyle, "Resumed"), t.Title, len(t.Turns))
	}

	params, err := applyOverrides(e.params, c.Set, c.Stop)
	if err != nil {
		return &UsageError{Err: err}
	}

	r := &repl{
		sess:     sess,
		params:   params,
		defaults: params,
		lister:   e.client,
		out:      cc.Stdout,
		errOut:   cc.Stderr,
		stats:    c.Stats,
		log:      e.log,
	}

	// Ctrl+C while a reply streams cancels the reply. At the prompt liner
	// handles it and the REPL exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	stopWatch := cancelOnSignal(sess, sigChan)
	defer stopWatch()

	input := NewChatCLI()
	defer input.Close()

	fmt.Fprintf(cc.Stdout, "%s %s\n%s\n\n",
		RenderConditional(TitleStyle, "localchat"),
		RenderConditional(DimStyle, "model "+params.Model()),
		RenderConditional(DimStyle, "Type /help for commands, Ctrl+D to exit."))

	for {
		line, err := input.ReadInput(RenderConditional(PromptStyle, "you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin
			fmt.Fprintln(cc.Stdout)
			r.printSummary()
			return nil
		}
		if quit := r.handleLine(ctx, line); quit {
			r.printSummary()
			return nil
		}
	}
}

// =============================================================================
// REPL
// =============================================================================

// repl holds the state of one chat REPL. It is driven line by line so it
// can run without a terminal.
type repl struct {
	sess     *session.Session
	params   sampling.Config
	defaults sampling.Config
	lister   ModelLister
	out      io.Writer
	errOut   io.Writer
	stats    bool
	log      zerolog.Logger
}

// ModelLister lists the models installed on the server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// handleLine processes one input line and reports whether to exit.
func (r *repl) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return true
	case strings.HasPrefix(line, "/"):
		quit, err := r.handleCommand(ctx, line)
		if err != nil {
			r.printError(err)
		}
		return quit
	}

	if err := r.send(ctx, line); err != nil {
		r.printError(err)
	}
	return false
}

// send streams one reply to the output.
func (r *repl) send(ctx context.Context, prompt string) error {
	fmt.Fprint(r.out, RenderConditional(AssistantStyle, r.params.Model()+"> "))

	var wrote bool
	var last string
	sink := session.SinkFunc(func(fragment string) {
		wrote = true
		last = fragment
		fmt.Fprint(r.out, fragment)
	})

	reply, err := r.sess.Send(ctx, prompt, r.params, sink)
	if wrote && !strings.HasSuffix(last, "\n") {
		fmt.Fprintln(r.out)
	}
	if !wrote && err != nil {
		fmt.Fprintln(r.out)
	}

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.errOut, RenderConditional(WarningStyle, "[Cancelled]"))
		return nil
	case err != nil:
		return err
	}

	r.log.Debug().Int("fragments", reply.Fragments).Dur("elapsed", reply.Elapsed).Msg("reply streamed")
	if r.stats {
		fmt.Fprintln(r.out, RenderConditional(DimStyle, replyStats(reply)))
	}
	fmt.Fprintln(r.out)
	return nil
}

// handleCommand runs a slash command and reports whether to exit.
func (r *repl) handleCommand(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h", "/?":
		r.printHelp()

	case "/reset", "/clear", "/c":
		if err := r.sess.Reset(ctx); err != nil {
			// The conversation is cleared even when archiving fails.
			fmt.Fprintf(r.out, "%s transcript not saved: %v\n", RenderConditional(WarningStyle, "Conversation cleared;"), err)
			return false, nil
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "Conversation cleared"))

	case "/params", "/p":
		renderParams(r.out, r.params, r.defaults)

	case "/set":
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return false, errors.New("usage: /set KEY=VALUE")
		}
		key = strings.TrimSpace(key)
		if key == sampling.KeyStop {
			r.params = r.params.WithStop(sampling.ParseStop(value))
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false, fmt.Errorf("invalid value for %s: %q", key, value)
		}
		next, err := r.params.With(key, v)
		if err != nil {
			return false, err
		}
		if err := next.Validate(); err != nil {
			return false, err
		}
		r.params = next
		fmt.Fprintf(r.out, "%s = %s\n", key, strings.TrimSpace(value))

	case "/unset":
		next, err := r.params.Without(arg)
		if err != nil {
			return false, err
		}
		r.params = next
		fmt.Fprintf(r.out, "%s unset\n", arg)

	case "/stop":
		r.params = r.params.WithStop(sampling.ParseStop(arg))
		if stop := r.params.Stop(); len(stop) > 0 {
			fmt.Fprintf(r.out, "stop = %s\n", strings.Join(stop, ", "))
		} else {
			fmt.Fprintln(r.out, "stop sequences cleared")
		}

	case "/model", "/m":
		if arg == "" {
			fmt.Fprintf(r.out, "Current model: %s\n", r.params.Model())
			break
		}
		r.params = r.params.WithModel(arg)
		fmt.Fprintf(r.out, "Switched to %s\n", arg)

	case "/models":
		return false, r.printModels(ctx)

	case "/system":
		if arg == "" {
			fmt.Fprintf(r.out, "System prompt: %s\n", r.sess.SystemPrompt())
			break
		}
		r.sess.SetSystemPrompt(arg)
		fmt.Fprintln(r.out, "System prompt updated")

	case "/save":
		if err := r.sess.Save(ctx); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Saved as %s\n", r.sess.TranscriptID())

	case "/status", "/s":
		r.printStatus()

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *repl) printError(err error) {
	fmt.Fprintf(r.errOut, "%s %v\n", RenderConditional(ErrorStyle, "[Error]"), err)
	if hint := Hint(err, r.params.Model()); hint != "" {
		fmt.Fprintln(r.errOut, RenderConditional(DimStyle, hint))
	}
}

func (r *repl) printHelp() {
	cmds := [][2]string{
		{"/help", "Show this help"},
		{"/reset", "Archive and clear the conversation"},
		{"/params", "Show the sampling parameters"},
		{"/set KEY=VALUE", "Change a parameter for the next messages"},
		{"/unset KEY", "Clear an optional parameter"},
		{"/stop A,B", "Set the stop sequences"},
		{"/model [name]", "Show or switch model"},
		{"/models", "List installed models"},
		{"/system [text]", "Show or change the system prompt"},
		{"/save", "Archive the conversation now"},
		{"/status", "Show session statistics"},
		{"/quit", "Exit chat"},
	}
	fmt.Fprintln(r.out, RenderConditional(TitleStyle, "Commands"))
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %s %s\n", padRight(c[0], 16), RenderConditional(DimStyle, c[1]))
	}
	fmt.Fprintln(r.out, RenderConditional(DimStyle, "Ctrl+C cancels a reply, Ctrl+D exits."))
}

func (r *repl) printModels(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, modelsTimeout)
	defer cancel()

	models, err := r.lister.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintln(r.out, "No models installed")
		return nil
	}
	for _, m := range models {
		marker := "  "
		if m.Name == r.params.Model() {
			marker = "* "
		}
		fmt.Fprintf(r.out, "%s%s %s\n", marker, padRight(m.Name, 32), RenderConditional(DimStyle, m.SizeString()))
	}
	return nil
}

func (r *repl) printStatus() {
	st := r.sess.Status()
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Session", 12), util.TruncateWidth(st.SessionID, 8))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Model", 12), r.params.Model())
	fmt.Fprintf(r.out, "%s %d\n", RenderLabel("Exchanges", 12), st.Exchanges)
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Duration", 12), session.FormatDuration(st.Duration))
	if st.TranscriptID != "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Transcript", 12), st.TranscriptID)
	}
}

func (r *repl) printSummary() {
	st := r.sess.Status()
	if st.Exchanges == 0 {
		return
	}
	fmt.Fprintln(r.out, RenderConditional(DimStyle,
		fmt.Sprintf("%d exchanges in %s", st.Exchanges, session.FormatDuration(st.Duration))))
}

// replyStats formats the timing line of a reply.
func replyStats(reply session.Reply) string {
	parts := []string{session.FormatDuration(reply.Elapsed)}
	if reply.Stats != nil && reply.Stats.CompletionTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", reply.Stats.CompletionTokens))
		if secs := reply.Stats.EvalDuration.Seconds(); secs > 0 {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", float64(reply.Stats.CompletionTokens)/secs))
		}
	} else {
		parts = append(parts, fmt.Sprintf("%d fragments", reply.Fragments))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// cancelOnSignal cancels the reply in progress whenever a signal arrives on
// sigs. The returned func stops watching and waits for the goroutine to end.
func cancelOnSignal(sess *session.Session, sigs <-chan os.Signal) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-sigs:
				if sess.Busy() {
					sess.Cancel()
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
