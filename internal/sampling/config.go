// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sampling defines the inference parameters forwarded to the model.
package sampling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidConfig is returned by Validate and by constructors given
// unknown parameter keys.
var ErrInvalidConfig = errors.New("invalid sampling configuration")

// =============================================================================
// CONFIG (IMMUTABLE VALUE)
// =============================================================================

// Config is the sampling configuration of one request: the model identifier
// plus the set inference parameters. It is never mutated after Build; With
// returns a modified copy.
type Config struct {
	model  string
	values map[string]float64
	stop   []string
}

// Model returns the model identifier.
func (c Config) Model() string {
	return c.model
}

// Float returns a numeric parameter and whether it is set.
func (c Config) Float(key string) (float64, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Int returns an integer parameter and whether it is set.
func (c Config) Int(key string) (int, bool) {
	v, ok := c.values[key]
	return int(v), ok
}

// Stop returns a copy of the stop sequences, nil when none.
func (c Config) Stop() []string {
	if len(c.stop) == 0 {
		return nil
	}
	out := make([]string, len(c.stop))
	copy(out, c.stop)
	return out
}

// Keys returns the set parameter keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.values)+1)
	for k := range c.values {
		keys = append(keys, k)
	}
	if len(c.stop) > 0 {
		keys = append(keys, KeyStop)
	}
	sort.Strings(keys)
	return keys
}

// Options encodes the set parameters as the Ollama "options" object.
// Unset optional parameters are omitted.
func (c Config) Options() map[string]any {
	opts := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		spec, _ := LookupSpec(k)
		switch spec.Kind {
		case KindInt, KindEnum:
			opts[k] = int(v)
		default:
			opts[k] = v
		}
	}
	if len(c.stop) > 0 {
		opts[KeyStop] = c.Stop()
	}
	return opts
}

// With returns a copy of c with key set to v. Setting an optional parameter
// to its unset value (seed 0) removes it.
func (c Config) With(key string, v float64) (Config, error) {
	b := c.toBuilder()
	if err := b.Set(key, v); err != nil {
		return c, err
	}
	return b.Build(), nil
}

// Without returns a copy of c with an optional parameter unset.
func (c Config) Without(key string) (Config, error) {
	b := c.toBuilder()
	if err := b.Unset(key); err != nil {
		return c, err
	}
	return b.Build(), nil
}

// WithStop returns a copy of c using the given stop sequences.
func (c Config) WithStop(stop []string) Config {
	return c.toBuilder().SetStopList(stop).Build()
}

// WithModel returns a copy of c using a different model.
func (c Config) WithModel(model string) Config {
	b := c.toBuilder()
	b.SetModel(model)
	return b.Build()
}

// String renders the configuration on one line for logs.
func (c Config) String() string {
	var sb strings.Builder
	sb.WriteString("model=")
	sb.WriteString(c.model)
	for _, k := range c.Keys() {
		sb.WriteByte(' ')
		sb.WriteString(k)
		sb.WriteByte('=')
		if k == KeyStop {
			sb.WriteString(fmt.Sprintf("%q", c.stop))
			continue
		}
		spec, _ := LookupSpec(k)
		sb.WriteString(spec.Format(c.values[k]))
	}
	return sb.String()
}

// =============================================================================
// VALIDATION
// =============================================================================

// RangeError reports a parameter outside its declared range.
type RangeError struct {
	Key   string
	Value float64
	Spec  Spec
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s = %s is outside %s", e.Key, e.Spec.Format(e.Value), e.Spec.Range())
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *RangeError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the model and every set parameter against its declared
// range. Requests are not validated automatically; callers opt in.
func (c Config) Validate() error {
	if strings.TrimSpace(c.model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	var errs []error
	for _, k := range c.Keys() {
		if k == KeyStop {
			continue
		}
		spec, _ := LookupSpec(k)
		if v := c.values[k]; !spec.Contains(v) {
			errs = append(errs, &RangeError{Key: k, Value: v, Spec: spec})
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// BUILDER
// =============================================================================

// Builder collects form values into a Config.
type Builder struct {
	model  string
	values map[string]float64
	stop   []string
}

// NewBuilder returns a builder preloaded with the declared defaults.
func NewBuilder(model string) *Builder {
	b := &Builder{
		model:  model,
		values: make(map[string]float64, len(Specs)),
	}
	for _, s := range Specs {
		if s.Kind == KindText || s.DefaultUnset {
			continue
		}
		if s.ZeroUnset && s.Default == 0 {
			continue
		}
		b.values[s.Key] = s.Default
	}
	return b
}

// SetModel sets the model identifier.
func (b *Builder) SetModel(model string) *Builder {
	b.model = model
	return b
}

// Set stores a numeric parameter as-is. Values are not clamped here; form
// controls clamp to the declared range before calling Set.
func (b *Builder) Set(key string, v float64) error {
	spec, ok := LookupSpec(key)
	if !ok || spec.Kind == KindText {
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, key)
	}
	if spec.ZeroUnset && v == 0 {
		delete(b.values, key)
		return nil
	}
	b.values[key] = v
	return nil
}

// Unset removes an optional parameter so it is not sent.
func (b *Builder) Unset(key string) error {
	spec, ok := LookupSpec(key)
	if !ok || !spec.Optional {
		return fmt.Errorf("%w: %q cannot be unset", ErrInvalidConfig, key)
	}
	if key == KeyStop {
		b.stop = nil
		return nil
	}
	delete(b.values, key)
	return nil
}

// SetStop parses a comma separated list of stop sequences. Entries are
// trimmed and empty entries dropped; an empty list leaves stop unset.
func (b *Builder) SetStop(csv string) *Builder {
	b.stop = ParseStop(csv)
	return b
}

// SetStopList sets the stop sequences directly.
func (b *Builder) SetStopList(stop []string) *Builder {
	b.stop = nil
	for _, s := range stop {
		if s != "" {
			b.stop = append(b.stop, s)
		}
	}
	return b
}

// Build returns the immutable configuration.
func (b *Builder) Build() Config {
	values := make(map[string]float64, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	var stop []string
	if len(b.stop) > 0 {
		stop = make([]string, len(b.stop))
		copy(stop, b.stop)
	}
	return Config{model: b.model, values: values, stop: stop}
}

func (c Config) toBuilder() *Builder {
	b := &Builder{model: c.model, values: make(map[string]float64, len(c.values))}
	for k, v := range c.values {
		b.values[k] = v
	}
	b.stop = c.Stop()
	return b
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Defaults returns the configuration built from declared defaults.
func Defaults(model string) Config {
	return NewBuilder(model).Build()
}

// FromValues overlays values from a config file on the defaults.
func FromValues(model string, values map[string]float64, stop []string) (Config, error) {
	b := NewBuilder(model)
	var errs []error
	for k, v := range values {
		if err := b.Set(k, v); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	b.SetStopList(stop)
	return b.Build(), nil
}

// ParseStop splits a comma separated stop list.
func ParseStop(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
