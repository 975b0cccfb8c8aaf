// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// params.go - Show or change the sampling parameter defaults.
//
// Examples:
//   localchat params                               Show every parameter
//   localchat params --set temperature=0.2 --write Change a default
//   localchat params --unset seed --write          Clear an optional one
//   localchat params --stop "</s>" --write         Replace the stop sequences

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/config"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
)

// ParamsCmd shows or changes the sampling defaults.
type ParamsCmd struct {
	Set       map[string]float64 `help:"Set a parameter" placeholder:"KEY=VALUE"`
	Unset     []string           `help:"Clear an optional parameter" placeholder:"KEY"`
	Stop      []string           `help:"Replace the stop sequences" placeholder:"TEXT"`
	ClearStop bool               `help:"Remove all stop sequences"`
	Write     bool               `short:"w" help:"Save the result as the config file defaults"`
	JSON      bool               `help:"Output JSON"`
}

func (c *ParamsCmd) changed() bool {
	return len(c.Set) > 0 || len(c.Unset) > 0 || len(c.Stop) > 0 || c.ClearStop
}

// Run applies the changes, optionally saves them, and prints the table.
func (c *ParamsCmd) Run(g *Globals, cc *CliConfig) error {
	e, err := g.setup(cc, setupOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	params, err := applyOverrides(e.params, c.Set, c.Stop)
	if err != nil {
		return &UsageError{Err: err}
	}
	for _, key := range c.Unset {
		if params, err = params.Without(key); err != nil {
			return &UsageError{Err: err}
		}
	}
	if c.ClearStop {
		params = params.WithStop(nil)
	}

	var saved string
	if c.Write && c.changed() {
		if saved, err = g.writeSamplingDefaults(params); err != nil {
			return &CommandError{Command: "params", Action: "write", Err: err}
		}
	}

	if c.JSON {
		return NewJSONResponse("params", paramsData(params)).Write(cc.Stdout)
	}

	renderParams(cc.Stdout, params, sampling.Defaults(params.Model()))
	switch {
	case saved != "":
		fmt.Fprintf(cc.Stdout, "\n%s %s\n", RenderConditional(SuccessStyle, "Saved to"), saved)
	case c.changed():
		fmt.Fprintf(cc.Stdout, "\n%s\n", RenderConditional(DimStyle, "Not saved; add --write to keep these values."))
	}
	return nil
}

// writeSamplingDefaults stores params in the config file. Only the file is
// read, so environment and flag overrides other than the sampling values
// are not written back.
func (g *Globals) writeSamplingDefaults(params sampling.Config) (string, error) {
	path, err := g.configPath()
	if err != nil {
		return "", err
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return "", err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	cfg.SetSamplingDefaults(params)
	if err := config.SaveTOML(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}

// =============================================================================
// RENDERING
// =============================================================================

// formatParam renders the current value of one parameter.
func formatParam(cfg sampling.Config, spec sampling.Spec) string {
	if spec.Key == sampling.KeyStop {
		if stop := cfg.Stop(); len(stop) > 0 {
			return strings.Join(stop, ", ")
		}
		return "none"
	}
	v, ok := cfg.Float(spec.Key)
	switch {
	case !ok && spec.ZeroUnset:
		return "random"
	case !ok:
		return "unset"
	}
	return spec.Format(v)
}

// renderParams writes one row per parameter. Values that differ from
// defaults are highlighted.
func renderParams(w io.Writer, cfg, defaults sampling.Config) {
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Model", 32), RenderConditional(ValueStyle, cfg.Model()))
	fmt.Fprintf(w, "  %s %s %s %s\n",
		RenderConditional(LabelStyle, padRight("PARAMETER", 32)),
		RenderConditional(LabelStyle, padRight("VALUE", 12)),
		RenderConditional(LabelStyle, padRight("DEFAULT", 10)),
		RenderConditional(LabelStyle, "RANGE"))

	for _, spec := range sampling.Specs {
		value := formatParam(cfg, spec)
		def := formatParam(defaults, spec)

		marker := "  "
		valueCol := padRight(value, 12)
		if value != def {
			marker = RenderConditional(WarningStyle, "* ")
			valueCol = RenderConditional(WarningStyle, valueCol)
		}
		fmt.Fprintf(w, "%s%s %s %s %s\n",
			marker,
			padRight(spec.Label, 32),
			valueCol,
			RenderConditional(DimStyle, padRight(def, 10)),
			RenderConditional(DimStyle, spec.Range()))
	}
}

func paramsData(cfg sampling.Config) ParamsData {
	data := ParamsData{Model: cfg.Model()}
	for _, spec := range sampling.Specs {
		p := ParamData{
			Key:      spec.Key,
			Label:    spec.Label,
			Range:    spec.Range(),
			Optional: spec.Optional,
		}
		if spec.Key == sampling.KeyStop {
			p.Stop = cfg.Stop()
		} else {
			if !spec.DefaultUnset && !spec.ZeroUnset {
				def := spec.Default
				p.Default = &def
			}
			if v, ok := cfg.Float(spec.Key); ok {
				p.Value = &v
			}
		}
		data.Params = append(data.Params, p)
	}
	return data
}
