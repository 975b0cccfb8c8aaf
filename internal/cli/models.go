// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - List the models installed on the Ollama server.
//
// Examples:
//   localchat models                 Table of installed models
//   localchat models --json          Machine readable output

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
)

const modelsTimeout = 10 * time.Second

// ModelsCmd lists installed models.
type ModelsCmd struct {
	JSON bool `help:"Output JSON"`
}

// Run prints the installed models, marking the configured one.
func (c *ModelsCmd) Run(g *Globals, cc *CliConfig) error {
	e, err := g.setup(cc, setupOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), modelsTimeout)
	defer cancel()

	current := e.params.Model()
	return OutputJSON(cc.Stdout, c.JSON, "models", func() (any, error) {
		models, err := e.client.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

		if !c.JSON {
			renderModels(cc.Stdout, models, current)
			return nil, nil
		}
		data := make([]ModelData, 0, len(models))
		for _, m := range models {
			data = append(data, ModelData{
				Name:          m.Name,
				Size:          m.Size,
				Family:        m.Details.Family,
				ParameterSize: m.Details.ParameterSize,
				Quantization:  m.Details.QuantizationLevel,
				ModifiedAt:    m.ModifiedAt,
				Current:       m.Name == current,
			})
		}
		return data, nil
	})
}

// renderModels writes the model table. Catalog models that are not
// installed are listed after it.
func renderModels(w io.Writer, models []ollama.ModelInfo, current string) {
	width := GetTerminalWidth()

	if len(models) == 0 {
		fmt.Fprintln(w, RenderConditional(WarningStyle, "No models installed."))
	} else {
		fmt.Fprintf(w, "  %s %s %s %s\n",
			RenderConditional(LabelStyle, padRight("NAME", 32)),
			RenderConditional(LabelStyle, padRight("SIZE", 10)),
			RenderConditional(LabelStyle, padRight("PARAMS", 8)),
			RenderConditional(LabelStyle, "QUANT"))
		fmt.Fprintln(w, RenderSeparator(width))
	}

	installed := make(map[string]bool, len(models))
	for _, m := range models {
		installed[m.Name] = true
		marker := "  "
		name := padRight(m.Name, 32)
		if m.Name == current {
			marker = RenderConditional(SuccessStyle, "* ")
			name = RenderConditional(SuccessStyle, name)
		}
		fmt.Fprintf(w, "%s%s %s %s %s\n",
			marker, name,
			padRight(m.SizeString(), 10),
			padRight(m.Details.ParameterSize, 8),
			RenderConditional(DimStyle, m.Details.QuantizationLevel))
	}

	var missing []string
	for _, id := range model.CatalogIDs() {
		if !installed[id] && !installed[id+":latest"] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderConditional(DimStyle, "Not installed (ollama pull NAME):"))
		for _, id := range missing {
			line := padRight(id, 32)
			if info, ok := model.LookupModel(id); ok {
				line += fmt.Sprintf(" %s, %s context", info.Description, info.ContextString())
			}
			fmt.Fprintf(w, "  %s\n", RenderConditional(DimStyle, line))
		}
	}
}
