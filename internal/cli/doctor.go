// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Health checks for the local setup.
//
// Examples:
//   localchat doctor             Run all checks
//   localchat doctor --json      Machine readable results

package cli

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/config"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ui/styles"
)

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	checkPassStyle = lipgloss.NewStyle().Foreground(styles.Emerald).Bold(true)
	checkWarnStyle = lipgloss.NewStyle().Foreground(styles.Amber).Bold(true)
	checkFailStyle = lipgloss.NewStyle().Foreground(styles.Rose).Bold(true)

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the JSON name of the status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the marker printed before a check.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return RenderConditional(checkPassStyle, "[OK]")
	case CheckWarn:
		return RenderConditional(checkWarnStyle, "[!!]")
	case CheckFail:
		return RenderConditional(checkFailStyle, "[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested fix command or instruction
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + RenderConditional(fixStyle, "-> "+c.Fix)
	}
	return result
}

// =============================================================================
// COMMAND
// =============================================================================

// DoctorCmd checks the local setup.
type DoctorCmd struct {
	JSON bool `help:"Output JSON"`
}

// Run runs every check and fails when one of them fails.
func (c *DoctorCmd) Run(g *Globals, cc *CliConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	checks := runAllChecks(ctx, g)

	var passed, warned, failed int
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}

	var err error
	if failed > 0 {
		err = fmt.Errorf("%d health check(s) failed", failed)
	}

	if c.JSON {
		return writeDoctorJSON(cc.Stdout, checks, passed, warned, failed, err)
	}

	width := min(GetTerminalWidth(), 60)
	fmt.Fprintln(cc.Stdout)
	fmt.Fprintln(cc.Stdout, RenderConditional(TitleStyle, "localchat doctor"))
	fmt.Fprintln(cc.Stdout, RenderSeparator(width))
	for _, check := range checks {
		fmt.Fprintln(cc.Stdout, check.Render())
	}
	fmt.Fprintln(cc.Stdout, RenderSeparator(width))

	summary := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		summary = append(summary, RenderConditional(checkWarnStyle, fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		summary = append(summary, RenderConditional(checkFailStyle, fmt.Sprintf("%d failed", failed)))
	}
	fmt.Fprintln(cc.Stdout, strings.Join(summary, ", "))
	fmt.Fprintln(cc.Stdout)

	return err
}

func writeDoctorJSON(w io.Writer, checks []*HealthCheck, passed, warned, failed int, err error) error {
	data := DoctorData{
		Checks: make([]DoctorCheck, 0, len(checks)),
		Summary: DoctorSummary{
			Passed:  passed,
			Warned:  warned,
			Failed:  failed,
			Healthy: failed == 0,
		},
	}
	for _, check := range checks {
		data.Checks = append(data.Checks, DoctorCheck{
			Name:    check.Name,
			Status:  check.Status.String(),
			Message: check.Message,
			Fix:     check.Fix,
		})
	}

	resp := NewJSONResponse("doctor", data)
	if err != nil {
		msg := err.Error()
		resp.Success = false
		resp.Error = &msg
	}
	if werr := resp.Write(w); werr != nil {
		return werr
	}
	return err
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

// runAllChecks runs the checks in order. An invalid config is reported and
// the remaining checks run against the defaults.
func runAllChecks(ctx context.Context, g *Globals) []*HealthCheck {
	cfgCheck, cfg := checkConfigValid(g)
	checks := []*HealthCheck{cfgCheck, checkOllamaInstalled()}

	client := ollama.NewClientWithConfig(cfg.ClientConfig(nil))
	defer client.Close()

	running := checkOllamaRunning(ctx, client)
	checks = append(checks, running)
	if running.Status == CheckPass {
		checks = append(checks, checkModelAvailable(ctx, client, cfg.Sampling.Model))
	}
	checks = append(checks, checkHistoryWritable(ctx, cfg))
	return checks
}

// checkConfigValid loads the configuration the way every command does.
func checkConfigValid(g *Globals) (*HealthCheck, *config.Config) {
	check := &HealthCheck{Name: "Config Valid"}

	cfg, err := g.loadConfig()
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %s", err)
		if path, perr := g.configPath(); perr == nil {
			check.Fix = "Edit " + path
		}
		cfg = config.Default()
		g.applyFlags(cfg)
		return check, cfg
	}

	check.Status = CheckPass
	check.Message = "Config valid"
	return check, cfg
}

// checkOllamaInstalled looks for the ollama binary. The server may run on
// another host, so a missing binary is only a warning.
func checkOllamaInstalled() *HealthCheck {
	check := &HealthCheck{Name: "Ollama Installed"}

	path, err := exec.LookPath("ollama")
	if err != nil {
		check.Status = CheckWarn
		check.Message = "ollama binary not found in PATH"
		check.Fix = "Install from https://ollama.com/download"
		return check
	}

	check.Status = CheckPass
	check.Message = "Ollama installed (" + path + ")"
	return check
}

// checkOllamaRunning checks if the Ollama server answers.
func checkOllamaRunning(ctx context.Context, client *ollama.Client) *HealthCheck {
	check := &HealthCheck{Name: "Ollama Running"}

	if err := client.CheckRunning(ctx); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Ollama not reachable at %s", client.BaseURL())
		check.Fix = "Run: ollama serve"
		return check
	}

	check.Status = CheckPass
	check.Message = "Ollama running at " + client.BaseURL()
	return check
}

// checkModelAvailable checks if the configured model is installed.
func checkModelAvailable(ctx context.Context, client *ollama.Client, name string) *HealthCheck {
	check := &HealthCheck{Name: "Model Available"}

	models, err := client.ListModels(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not list models: %s", err)
		return check
	}

	for _, m := range models {
		if m.Name == name || m.Name == name+":latest" {
			check.Status = CheckPass
			check.Message = fmt.Sprintf("Model %s installed (%s)", name, m.SizeString())
			return check
		}
	}

	check.Status = CheckFail
	check.Message = fmt.Sprintf("Model %s not installed", name)
	check.Fix = "Run: ollama pull " + name
	return check
}

// checkHistoryWritable opens the transcript archive.
func checkHistoryWritable(ctx context.Context, cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "History Writable"}

	if !cfg.Storage.Enabled {
		check.Status = CheckPass
		check.Message = "Conversation history disabled"
		return check
	}

	archive, err := storage.OpenWithConfig(storage.Config{
		Path:           cfg.HistoryPath(),
		MaxTranscripts: cfg.Storage.MaxTranscripts,
	})
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not open history: %s", err)
		check.Fix = "Check permissions of " + cfg.HistoryPath()
		return check
	}
	defer archive.Close()

	n, err := archive.Count(ctx)
	if err != nil {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("History unreadable: %s", err)
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("History writable (%d conversations)", n)
	return check
}
