// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, exit codes and error display for the CLI.
//
// Commands always return errors; main prints them once with DisplayError
// and exits with ExitCode.

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the Ollama server could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError wraps a command line parse error.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// ConfigError wraps a configuration load or validation error.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "history")
	Action  string // Action being performed (e.g., "delete")
	Err     error  // Underlying error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DISPLAY
// =============================================================================

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var (
		usage *UsageError
		cfg   *ConfigError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfg):
		return ExitConfigError
	case ollama.IsConnectionError(err) && !ollama.IsModelNotFound(err):
		return ExitNetworkError
	case errors.Is(err, storage.ErrTranscriptNotFound):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

// Hint returns a suggestion for resolving err, or "".
func Hint(err error, model string) string {
	switch {
	case ollama.IsModelNotFound(err):
		if model == "" {
			model = "MODEL"
		}
		return "Pull the model first: ollama pull " + model
	case ollama.IsConnectionError(err):
		return "Is Ollama running? Start it with: ollama serve"
	case errors.Is(err, storage.ErrAmbiguousID):
		return "Use more characters of the ID (see: localchat history list)"
	}
	return ""
}

// DisplayError prints err and its hint to w.
func DisplayError(w io.Writer, err error, model string) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", RenderConditional(ErrorStyle, "Error:"), err)
	if hint := Hint(err, model); hint != "" {
		fmt.Fprintln(w, RenderConditional(DimStyle, hint))
	}
}
