// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/logging"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/util"
)

// Environment variables that override the file.
const (
	EnvModel    = "LOCALCHAT_MODEL"
	EnvLogLevel = "LOCALCHAT_LOG_LEVEL"
	EnvHistory  = "LOCALCHAT_HISTORY"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete localchat configuration.
type Config struct {
	// Ollama server connection
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`

	// Sampling defaults used for new sessions
	Sampling SamplingConfig `toml:"sampling" json:"sampling"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`

	// Transcript archive
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Log output
	Log LogConfig `toml:"log" json:"log"`
}

// OllamaConfig contains the server connection settings.
type OllamaConfig struct {
	// Host accepts every form OLLAMA_HOST does ("host:port", "http://host:port")
	Host string `toml:"host" json:"host"`
	// TimeoutSecs bounds non-streaming requests such as listing models
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// ConnectTimeoutSecs bounds dialing the server
	ConnectTimeoutSecs int `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
}

// SamplingConfig holds the sampling defaults as they appear in the file.
//
//	[sampling]
//	model = "llama3.1"
//	stop = ["</s>"]
//
//	[sampling.params]
//	temperature = 0.7
//	top_k = 40
type SamplingConfig struct {
	Model  string             `toml:"model" json:"model"`
	Stop   []string           `toml:"stop" json:"stop,omitempty"`
	Params map[string]float64 `toml:"params" json:"params,omitempty"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// Markdown renders assistant turns with glamour
	Markdown bool `toml:"markdown" json:"markdown"`
	// MaxFPS caps how often streamed fragments repaint the screen
	MaxFPS int `toml:"max_fps" json:"max_fps"`
	// SystemPrompt is prepended to every request when set
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
	// ShowStats displays timing and token counts after each reply
	ShowStats bool `toml:"show_stats" json:"show_stats"`
}

// StorageConfig configures the transcript archive.
type StorageConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database file (default: ~/.localchat/history.db)
	Path string `toml:"path" json:"path"`
	// MaxTranscripts prunes the oldest transcripts (0 = unlimited)
	MaxTranscripts int `toml:"max_transcripts" json:"max_transcripts"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `toml:"level" json:"level"`
	// File receives TUI logs (default: ~/.localchat/localchat.log)
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			Host:               ollama.DefaultHost,
			TimeoutSecs:        30,
			ConnectTimeoutSecs: 5,
		},
		Sampling: SamplingConfig{
			Model: model.DefaultModel,
		},
		UI: UIConfig{
			Theme:     "auto",
			Markdown:  true,
			MaxFPS:    30,
			ShowStats: true,
		},
		Storage: StorageConfig{
			Enabled:        true,
			MaxTranscripts: 500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the localchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".localchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LogPath returns the configured log file, or the default one.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return expandHome(c.Log.File)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "localchat.log"
	}
	return filepath.Join(dir, "localchat.log")
}

// HistoryPath returns the configured archive file, or the default one.
func (c *Config) HistoryPath() string {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(dir, "history.db")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment (".env" when none are named). Variables already set win.
// Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads ~/.localchat/config.toml when it exists, then applies
// environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return finish(Default())
	}
	cfg := Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file with full validation.
// Unlike Load, the file must exist.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values. Unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if strings.TrimSpace(c.Ollama.Host) == "" {
		c.Ollama.Host = defaults.Ollama.Host
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}
	if c.Ollama.ConnectTimeoutSecs == 0 {
		c.Ollama.ConnectTimeoutSecs = defaults.Ollama.ConnectTimeoutSecs
	}
	if c.Sampling.Model == "" {
		c.Sampling.Model = defaults.Sampling.Model
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	if c.UI.MaxFPS == 0 {
		c.UI.MaxFPS = defaults.UI.MaxFPS
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// ApplyEnvOverrides applies environment variable overrides. Empty values
// are ignored, so OLLAMA_HOST="" keeps the configured host.
func (c *Config) ApplyEnvOverrides() {
	// OLLAMA_HOST
	if host := strings.TrimSpace(os.Getenv(ollama.EnvHost)); host != "" {
		c.Ollama.Host = host
	}

	// LOCALCHAT_MODEL
	if m := strings.TrimSpace(os.Getenv(EnvModel)); m != "" {
		c.Sampling.Model = m
	}

	// LOCALCHAT_LOG_LEVEL
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Log.Level = strings.ToLower(level)
	}

	// LOCALCHAT_HISTORY
	if path := strings.TrimSpace(os.Getenv(EnvHistory)); path != "" {
		c.Storage.Path = path
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to path atomically.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# localchat configuration file\n")
	buf.WriteString("# Environment: OLLAMA_HOST, LOCALCHAT_MODEL, LOCALCHAT_LOG_LEVEL, LOCALCHAT_HISTORY\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validThemes = map[string]bool{"auto": true, "dark": true, "light": true}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Ollama.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{"ollama.timeout_secs", "must not be negative"})
	}
	if c.Ollama.ConnectTimeoutSecs < 0 {
		errs = append(errs, ValidationError{"ollama.connect_timeout_secs", "must not be negative"})
	}
	if strings.ContainsAny(c.Ollama.Host, " \t\n") {
		errs = append(errs, ValidationError{"ollama.host", fmt.Sprintf("invalid host %q", c.Ollama.Host)})
	}

	if strings.TrimSpace(c.Sampling.Model) == "" {
		errs = append(errs, ValidationError{"sampling.model", "must not be empty"})
	}
	for _, key := range sortedKeys(c.Sampling.Params) {
		spec, ok := sampling.LookupSpec(key)
		if !ok || spec.Kind == sampling.KindText {
			errs = append(errs, ValidationError{"sampling.params." + key, "unknown parameter"})
			continue
		}
		if v := c.Sampling.Params[key]; !spec.Contains(v) {
			errs = append(errs, ValidationError{"sampling.params." + key,
				fmt.Sprintf("%s out of range %s", spec.Format(v), spec.Range())})
		}
	}

	if !validThemes[c.UI.Theme] {
		errs = append(errs, ValidationError{"ui.theme", fmt.Sprintf("invalid theme %q (want auto, dark or light)", c.UI.Theme)})
	}
	if c.UI.MaxFPS < 1 || c.UI.MaxFPS > 120 {
		errs = append(errs, ValidationError{"ui.max_fps", fmt.Sprintf("must be between 1 and 120, got %d", c.UI.MaxFPS)})
	}

	if c.Storage.MaxTranscripts < 0 {
		errs = append(errs, ValidationError{"storage.max_transcripts", "must not be negative"})
	}

	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("invalid level %q", c.Log.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// SamplingDefaults builds the immutable sampling configuration new
// sessions start from.
func (c *Config) SamplingDefaults() (sampling.Config, error) {
	return sampling.FromValues(c.Sampling.Model, c.Sampling.Params, c.Sampling.Stop)
}

// SetSamplingDefaults records cfg as the file's sampling section. Only values
// that differ from the declared defaults are written.
func (c *Config) SetSamplingDefaults(cfg sampling.Config) {
	c.Sampling.Model = cfg.Model()
	c.Sampling.Stop = cfg.Stop()
	c.Sampling.Params = nil
	for _, key := range cfg.Keys() {
		spec, _ := sampling.LookupSpec(key)
		v, ok := cfg.Float(key)
		if !ok || v == spec.Default && !spec.DefaultUnset {
			continue
		}
		if c.Sampling.Params == nil {
			c.Sampling.Params = make(map[string]float64)
		}
		c.Sampling.Params[key] = v
	}
}

// ClientConfig returns the Ollama client settings.
func (c *Config) ClientConfig(log *zerolog.Logger) *ollama.ClientConfig {
	return &ollama.ClientConfig{
		BaseURL:        ollama.NormalizeHost(c.Ollama.Host),
		Timeout:        time.Duration(c.Ollama.TimeoutSecs) * time.Second,
		ConnectTimeout: time.Duration(c.Ollama.ConnectTimeoutSecs) * time.Second,
		Logger:         log,
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Sampling.Stop != nil {
		clone.Sampling.Stop = append([]string(nil), c.Sampling.Stop...)
	}
	if c.Sampling.Params != nil {
		clone.Sampling.Params = make(map[string]float64, len(c.Sampling.Params))
		for k, v := range c.Sampling.Params {
			clone.Sampling.Params[k] = v
		}
	}
	return &clone
}

// String returns the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
