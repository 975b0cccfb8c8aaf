// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sampling defines the inference parameters forwarded to the model.
//
// Specs is the configuration surface: every parameter with its declared
// range, default and step. Form controls read Specs to render sliders and
// number inputs and clamp user input to the declared range. The collected
// values are turned into an immutable Config with a Builder, once per request.
//
//	b := sampling.NewBuilder("llama3.1")
//	b.Set(sampling.KeyTemperature, 0.2)
//	b.SetStop("###, END")
//	cfg := b.Build()
//
// Config.Options produces the Ollama "options" object. Parameters left unset
// (mirostat "none", seed 0, no stop tokens) are omitted from it.
package sampling
