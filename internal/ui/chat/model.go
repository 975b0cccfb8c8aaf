// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/logging"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/styles"
)

// Title is shown in the header.
const Title = "My Local GPT with Ollama"

// =============================================================================
// CHAT STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateWaiting                // Request sent, no fragment yet
	StateStreaming              // Receiving fragments
)

// String returns the status bar label of the state.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return styles.ThinkingText
	case StateStreaming:
		return "Streaming"
	default:
		return "Ready"
	}
}

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

// ModelLister lists the models installed on the server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Options configures a chat Model.
type Options struct {
	// Session owns the conversation and sends the prompts (required)
	Session *session.Session

	// Params are the initial sampling parameters
	Params sampling.Config

	// Lister adds installed models to the model selector (optional)
	Lister ModelLister

	// Theme defaults to an auto-detected theme
	Theme *styles.Theme

	// Markdown renders finished assistant turns with glamour
	Markdown bool

	// MaxFPS caps repaints while a reply streams
	MaxFPS int

	// ShowStats displays timing and token counts of the last reply
	ShowStats bool

	// StartupErr is shown until the first send, for example a server that
	// was not reachable when the program started
	StartupErr error

	Logger *zerolog.Logger
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	// State
	state State
	focus focusArea

	// Styling
	theme *styles.Theme

	// Dimensions
	width  int
	height int

	// Conversation
	sess   *session.Session
	lister ModelLister
	params sampling.Config

	// Current reply
	pendingPrompt string
	replyStart    time.Time
	lastReply     *session.Reply
	lastErr       error

	// Streaming
	buffer *StreamingBuffer
	notify *notifier

	// UI Components
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	sidebar  Sidebar
	help     help.Model
	markdown *markdownRenderer

	// Key bindings
	keyMap KeyMap

	// Status
	showHelp  bool
	showStats bool
	status    string
	statusID  int

	log zerolog.Logger
}

// New creates a new chat model.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme("auto")
	}

	params := opts.Params
	if params.Model() == "" {
		params = params.WithModel(model.DefaultModel)
	}

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = styles.DotsSpinner.Bubble()
	sp.Style = theme.Spinner

	models := model.CatalogIDs()
	models = append(models, params.Model())
	sidebar := NewSidebar(nil)
	sidebar.SetModels(models)

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = logging.Component(*opts.Logger, "tui")
	}

	return Model{
		state:     StateReady,
		theme:     theme,
		sess:      opts.Session,
		lister:    opts.Lister,
		params:    params,
		buffer:    NewStreamingBuffer(opts.MaxFPS),
		notify:    &notifier{},
		viewport:  viewport.New(0, 0),
		input:     ta,
		spinner:   sp,
		sidebar:   sidebar,
		help:      help.New(),
		markdown:  newMarkdownRenderer(theme.GlamourStyle(), opts.Markdown),
		keyMap:    DefaultKeyMap(),
		showStats: opts.ShowStats,
		lastErr:   opts.StartupErr,
		log:       log,
	}
}

// Init starts the cursor blink and fetches the installed models.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, listModelsCmd(m.lister))
}

// Params returns the sampling parameters used for the next message.
func (m Model) Params() sampling.Config {
	return m.params
}

// State returns the current chat state.
func (m Model) State() State {
	return m.state
}

// Session returns the session driving the chat.
func (m Model) Session() *session.Session {
	return m.sess
}

// =============================================================================
// PROGRAM
// =============================================================================

// NewProgram creates the Bubble Tea program for m on the alternate screen
// and connects the reply goroutine to it.
func NewProgram(ctx context.Context, m Model, opts ...tea.ProgramOption) *tea.Program {
	opts = append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts...)
	p := tea.NewProgram(m, opts...)
	m.notify.set(p.Send)
	return p
}

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// sendCmd runs one exchange on the session. Fragments go to the streaming
// buffer, which decides when the render loop is woken up.
func (m Model) sendCmd(prompt string) tea.Cmd {
	sess, params, buf, n := m.sess, m.params, m.buffer, m.notify
	return func() tea.Msg {
		sink := session.SinkFunc(func(fragment string) {
			if buf.Write(fragment) {
				n.Send(fragmentsMsg{})
			}
		})
		reply, err := sess.Send(context.Background(), prompt, params, sink)
		return replyDoneMsg{prompt: prompt, reply: reply, err: err}
	}
}

// resetCmd archives and clears the conversation.
func resetCmd(sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		return resetDoneMsg{err: sess.Reset(context.Background())}
	}
}

// listModelsCmd fetches the installed models.
func listModelsCmd(lister ModelLister) tea.Cmd {
	if lister == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		models, err := lister.ListModels(ctx)
		return modelsMsg{models: models, err: err}
	}
}

// clearStatusCmd clears the status message after a delay.
func clearStatusCmd(id int) tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return statusClearMsg{id: id}
	})
}
