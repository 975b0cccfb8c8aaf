// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/config"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/logging"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// COMMAND TREE
// =============================================================================

// Globals are the flags shared by every command.
type Globals struct {
	Config    string           `short:"c" help:"Path to config file (default: ~/.localchat/config.toml)" type:"path" placeholder:"FILE"`
	Host      string           `help:"Ollama server address, overrides OLLAMA_HOST" placeholder:"HOST:PORT"`
	Model     string           `short:"m" help:"Model to use" placeholder:"NAME"`
	LogLevel  string           `help:"Log level (trace, debug, info, warn, error)" placeholder:"LEVEL"`
	NoHistory bool             `help:"Do not archive conversations"`
	Version   kong.VersionFlag `short:"V" help:"Print version and exit"`

	// model is the resolved model name, for error hints
	model string
}

// CLI is the root command structure for localchat.
type CLI struct {
	Globals

	Tui     TuiCmd     `cmd:"" default:"withargs" help:"Open the chat interface (default)"`
	Chat    ChatCmd    `cmd:"" help:"Chat in a line-based REPL"`
	Ask     AskCmd     `cmd:"" help:"Send one prompt and print the reply"`
	Models  ModelsCmd  `cmd:"" help:"List the models installed on the server"`
	Params  ParamsCmd  `cmd:"" help:"Show or change the sampling parameter defaults"`
	History HistoryCmd `cmd:"" help:"Browse archived conversations"`
	Doctor  DoctorCmd  `cmd:"" help:"Check the Ollama server, the model and the config"`
}

// CliConfig contains the process environment of a CLI invocation.
type CliConfig struct {
	Name        string
	Description string
	// Exit is called by kong after --help and --version
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCliConfig returns a CliConfig bound to the process.
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "localchat",
		Description: "Chat with a local model served by Ollama.",
		Exit:        os.Exit,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// VersionString returns the version line printed by --version.
func VersionString() string {
	return fmt.Sprintf("localchat %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}

// Run parses args and executes the selected command.
func Run(args []string, cc *CliConfig) error {
	_, err := run(args, cc)
	return err
}

// Main runs the CLI, prints any error and returns the process exit code.
func Main(args []string, cc *CliConfig) int {
	if cc == nil {
		cc = NewCliConfig()
	}
	g, err := run(args, cc)
	if err != nil {
		DisplayError(cc.Stderr, err, g.model)
	}
	return ExitCode(err)
}

func run(args []string, cc *CliConfig) (*Globals, error) {
	if cc == nil {
		cc = NewCliConfig()
	}

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name(cc.Name),
		kong.Description(cc.Description),
		kong.Exit(cc.Exit),
		kong.Writers(cc.Stdout, cc.Stderr),
		kong.UsageOnError(),
		kong.Vars{"version": VersionString()},
		kong.Bind(cc),
	)
	if err != nil {
		return &cli.Globals, err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return &cli.Globals, &UsageError{Err: err}
	}
	return &cli.Globals, ctx.Run(&cli.Globals)
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// env holds what the commands share once configuration is loaded.
type env struct {
	cfg     *config.Config
	params  sampling.Config
	client  *ollama.Client
	archive *storage.Archive
	log     zerolog.Logger

	closers []io.Closer
}

// setupOptions selects what a command needs.
type setupOptions struct {
	// logFile sends logs to the log file instead of stderr
	logFile bool
	// archive opens the transcript archive when it is enabled
	archive bool
}

// loadConfig reads .env, the config file and the environment, then applies
// the global flags.
func (g *Globals) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	var (
		cfg *config.Config
		err error
	)
	if g.Config != "" {
		cfg, err = config.LoadFromPath(g.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	g.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

// applyFlags applies command line overrides, which win over the file and
// the environment.
func (g *Globals) applyFlags(cfg *config.Config) {
	if h := strings.TrimSpace(g.Host); h != "" {
		cfg.Ollama.Host = h
	}
	if m := strings.TrimSpace(g.Model); m != "" {
		cfg.Sampling.Model = m
	}
	if l := strings.TrimSpace(g.LogLevel); l != "" {
		cfg.Log.Level = strings.ToLower(l)
	}
	if g.NoHistory {
		cfg.Storage.Enabled = false
	}
}

// configPath is the file the configuration was read from.
func (g *Globals) configPath() (string, error) {
	if g.Config != "" {
		return g.Config, nil
	}
	return config.ConfigPath()
}

func (g *Globals) setup(cc *CliConfig, opts setupOptions) (*env, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	if opts.logFile {
		log, closer, err := logging.File(cfg.Log.Level, cfg.LogPath())
		if err != nil {
			return nil, err
		}
		e.log = log
		e.closers = append(e.closers, closer)
	} else {
		e.log = logging.Console(cfg.Log.Level, cc.Stderr)
	}

	e.params, err = cfg.SamplingDefaults()
	if err != nil {
		e.Close()
		return nil, &ConfigError{Err: err}
	}

	g.model = e.params.Model()
	e.client = ollama.NewClientWithConfig(cfg.ClientConfig(&e.log))

	if opts.archive && cfg.Storage.Enabled {
		archive, err := storage.OpenWithConfig(storage.Config{
			Path:           cfg.HistoryPath(),
			MaxTranscripts: cfg.Storage.MaxTranscripts,
		})
		if err != nil {
			// Chatting still works without history.
			e.log.Warn().Err(err).Str("path", cfg.HistoryPath()).Msg("transcript archive unavailable")
		} else {
			e.archive = archive
			e.closers = append(e.closers, archive)
		}
	}

	e.log.Debug().
		Str("host", e.client.BaseURL()).
		Str("model", e.params.Model()).
		Bool("history", e.archive != nil).
		Msg("configuration loaded")
	return e, nil
}

// openArchive opens the archive for the history command, which fails
// without one.
func (g *Globals) openArchive() (*storage.Archive, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.OpenWithConfig(storage.Config{
		Path:           cfg.HistoryPath(),
		MaxTranscripts: cfg.Storage.MaxTranscripts,
	})
}

// Close releases the client, the archive and the log file.
func (e *env) Close() error {
	if e.client != nil {
		e.client.Close()
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// SESSIONS
// =============================================================================

// newSession creates a session on the configured server. system overrides
// the configured system prompt when set.
func (e *env) newSession(system string) *session.Session {
	var archive session.Archiver
	if e.archive != nil {
		archive = e.archive
	}
	if strings.TrimSpace(system) == "" {
		system = e.cfg.UI.SystemPrompt
	}
	log := logging.Component(e.log, "session")
	return session.New(session.Config{
		Completer:    session.NewOllamaCompleter(e.client),
		Archive:      archive,
		SystemPrompt: system,
		Logger:       &log,
	})
}

// resume loads an archived conversation into sess and switches the
// parameters to the model it used.
func (e *env) resume(ctx context.Context, sess *session.Session, id string) (*storage.Transcript, error) {
	if e.archive == nil {
		return nil, errors.New("cannot resume: conversation history is disabled")
	}
	t, err := e.archive.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.Restore(t); err != nil {
		return nil, err
	}
	if t.Model != "" {
		e.params = e.params.WithModel(t.Model)
	}
	e.log.Info().Str("transcript", t.ID).Int("turns", len(t.Turns)).Msg("conversation resumed")
	return t, nil
}

// applyOverrides applies --set and --stop flags to params and validates
// the result.
func applyOverrides(params sampling.Config, set map[string]float64, stop []string) (sampling.Config, error) {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		if params, err = params.With(k, set[k]); err != nil {
			return params, err
		}
	}
	if len(stop) > 0 {
		params = params.WithStop(stop)
	}
	return params, params.Validate()
}
