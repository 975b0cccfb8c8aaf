// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sampling defines the inference parameters forwarded to the model.
package sampling

import (
	"math"
	"strconv"
)

// =============================================================================
// PARAMETER KINDS
// =============================================================================

// Kind describes how a parameter is edited and encoded.
type Kind int

const (
	// KindFloat is a continuous slider value.
	KindFloat Kind = iota
	// KindInt is an integer number input.
	KindInt
	// KindEnum is a selection from Choices; Optional enums allow "none".
	KindEnum
	// KindText is free text (the stop sequence list).
	KindText
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindEnum:
		return "enum"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// =============================================================================
// PARAMETER SPEC
// =============================================================================

// Spec declares one named sampling parameter: its range, default and step.
type Spec struct {
	Key     string
	Label   string
	Kind    Kind
	Min     float64
	Max     float64 // +Inf when unbounded
	Default float64
	Step    float64

	// Optional parameters may be left unset and are then omitted from the
	// request, letting the server pick its own value.
	Optional bool
	// DefaultUnset leaves an Optional parameter unset until the user picks a value.
	DefaultUnset bool
	// ZeroUnset treats 0 as "unset" (the seed).
	ZeroUnset bool

	Help string
}

// Parameter keys, matching the Ollama options names.
const (
	KeyMirostat      = "mirostat"
	KeyMirostatEta   = "mirostat_eta"
	KeyMirostatTau   = "mirostat_tau"
	KeyNumCtx        = "num_ctx"
	KeyNumThread     = "num_thread"
	KeyNumPredict    = "num_predict"
	KeyRepeatLastN   = "repeat_last_n"
	KeyRepeatPenalty = "repeat_penalty"
	KeyTemperature   = "temperature"
	KeySeed          = "seed"
	KeyStop          = "stop"
	KeyTFSZ          = "tfs_z"
	KeyTopK          = "top_k"
	KeyTopP          = "top_p"
)

var inf = math.Inf(1)

// Specs lists every parameter of the configuration surface in display order.
var Specs = []Spec{
	{Key: KeyMirostat, Label: "Mirostat", Kind: KindEnum, Min: 0, Max: 2, Step: 1,
		Optional: true, DefaultUnset: true,
		Help: "Mirostat sampling mode (none, 0 disabled, 1 Mirostat, 2 Mirostat 2.0)"},
	{Key: KeyMirostatEta, Label: "Mirostat Eta", Kind: KindFloat, Min: 0, Max: 1, Default: 0.1, Step: 0.1,
		Help: "Learning rate of the Mirostat feedback loop"},
	{Key: KeyMirostatTau, Label: "Mirostat Tau", Kind: KindFloat, Min: 0, Max: 10, Default: 5.0, Step: 0.1,
		Help: "Balance between coherence and diversity"},
	{Key: KeyNumCtx, Label: "Context Size (num_ctx)", Kind: KindInt, Min: 1, Max: inf, Default: 2048, Step: 256,
		Help: "Size of the context window in tokens"},
	{Key: KeyNumThread, Label: "Number of Threads (num_thread)", Kind: KindInt, Min: 1, Max: inf, Default: 4, Step: 1,
		Help: "CPU threads used for generation"},
	{Key: KeyNumPredict, Label: "Tokens to Predict (num_predict)", Kind: KindInt, Min: -2, Max: inf, Default: 128, Step: 32,
		Help: "Maximum tokens to generate (-1 infinite, -2 fill context)"},
	{Key: KeyRepeatLastN, Label: "Repeat Last N (repeat_last_n)", Kind: KindInt, Min: -1, Max: inf, Default: 64, Step: 8,
		Help: "How far back to look to prevent repetition (0 disabled, -1 num_ctx)"},
	{Key: KeyRepeatPenalty, Label: "Repeat Penalty", Kind: KindFloat, Min: 1.0, Max: 2.0, Default: 1.1, Step: 0.1,
		Help: "How strongly to penalize repetitions"},
	{Key: KeyTemperature, Label: "Temperature", Kind: KindFloat, Min: 0, Max: 1, Default: 0.8, Step: 0.01,
		Help: "Higher values answer more creatively"},
	{Key: KeySeed, Label: "Seed", Kind: KindInt, Min: 0, Max: inf, Default: 0, Step: 1,
		Optional: true, ZeroUnset: true,
		Help: "Random seed for reproducible output (0 leaves it random)"},
	{Key: KeyStop, Label: "Stop Tokens", Kind: KindText, Optional: true,
		Help: "Comma separated stop sequences"},
	{Key: KeyTFSZ, Label: "TFS Z", Kind: KindFloat, Min: 0, Max: 5, Default: 1.0, Step: 0.1,
		Help: "Tail free sampling (1.0 disables)"},
	{Key: KeyTopK, Label: "Top-K", Kind: KindInt, Min: 0, Max: inf, Default: 40, Step: 1,
		Help: "Limits sampling to the K most likely tokens"},
	{Key: KeyTopP, Label: "Top-P", Kind: KindFloat, Min: 0, Max: 1, Default: 0.9, Step: 0.01,
		Help: "Nucleus sampling probability mass"},
}

// LookupSpec returns the spec for key.
func LookupSpec(key string) (Spec, bool) {
	for _, s := range Specs {
		if s.Key == key {
			return s, true
		}
	}
	return Spec{}, false
}

// Bounded reports whether the spec has a finite upper bound.
func (s Spec) Bounded() bool {
	return !math.IsInf(s.Max, 1)
}

// Contains reports whether v lies in the declared range.
func (s Spec) Contains(v float64) bool {
	if s.Kind == KindText {
		return true
	}
	return v >= s.Min && v <= s.Max
}

// Clamp limits v to the declared range and snaps integer kinds.
func (s Spec) Clamp(v float64) float64 {
	if s.Kind == KindText {
		return v
	}
	if s.Kind == KindInt || s.Kind == KindEnum {
		v = math.Round(v)
	}
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Nudge moves v by n steps and clamps the result.
func (s Spec) Nudge(v float64, n int) float64 {
	next := v + float64(n)*s.Step
	if s.Kind == KindFloat {
		// Snap to the step grid so repeated nudges do not drift.
		next = math.Round(next/s.Step) * s.Step
	}
	return s.Clamp(next)
}

// Format renders v for display.
func (s Spec) Format(v float64) string {
	switch s.Kind {
	case KindInt, KindEnum:
		return strconv.FormatInt(int64(v), 10)
	default:
		return strconv.FormatFloat(v, 'f', s.decimals(), 64)
	}
}

// Range renders the declared range ("0..1", ">= 1").
func (s Spec) Range() string {
	switch {
	case s.Kind == KindText:
		return "text"
	case s.Kind == KindEnum && s.Optional:
		return "none, " + s.Format(s.Min) + ".." + s.Format(s.Max)
	case !s.Bounded():
		return ">= " + s.Format(s.Min)
	default:
		return s.Format(s.Min) + ".." + s.Format(s.Max)
	}
}

func (s Spec) decimals() int {
	switch {
	case s.Step >= 1:
		return 0
	case s.Step >= 0.1:
		return 1
	default:
		return 2
	}
}
