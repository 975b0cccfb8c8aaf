// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation for destructive CLI actions.
//
// One pattern for every command:
//   1. If --yes is present, proceed without prompting
//   2. If --json mode, require --yes (no interactive prompts in JSON mode)
//   3. If stdin is not a terminal, require --yes (can't prompt)
//   4. Otherwise, show an interactive prompt

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ConfirmationOptions describes how a confirmation may be given.
type ConfirmationOptions struct {
	// Yes indicates --yes was passed (skip interactive prompt)
	Yes bool
	// JSONMode indicates --json was passed
	JSONMode bool
	// Interactive reports whether the input is a terminal
	Interactive bool
}

// errConfirmationRequired is returned when a prompt is needed but cannot
// be shown.
var errConfirmationRequired = errors.New("confirmation required: pass --yes")

// RequireConfirmation asks on out and reads the answer from in. It returns
// false without error when the user declines.
func RequireConfirmation(in io.Reader, out io.Writer, action string, opts ConfirmationOptions) (bool, error) {
	if opts.Yes {
		return true, nil
	}
	if opts.JSONMode || !opts.Interactive {
		return false, errConfirmationRequired
	}

	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
