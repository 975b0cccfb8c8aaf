// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// HOST TESTS
// =============================================================================

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultHost},
		{"   ", DefaultHost},
		{"localhost", "http://localhost:11434"},
		{"localhost:8080", "http://localhost:8080"},
		{":11435", "http://127.0.0.1:11435"},
		{"0.0.0.0", "http://0.0.0.0:11434"},
		{"http://10.0.0.5:11434/", "http://10.0.0.5:11434"},
		{"https://ollama.example.com", "https://ollama.example.com:443"},
		{"https://example.com:8443/ollama", "https://example.com:8443/ollama"},
		{"[::1]:11434", "http://[::1]:11434"},
		{"[::1]", "http://[::1]:11434"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := NormalizeHost(tc.in); got != tc.want {
				t.Errorf("NormalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBaseURLFromEnv(t *testing.T) {
	t.Setenv(EnvHost, "")
	if got := BaseURLFromEnv(); got != DefaultHost {
		t.Errorf("empty OLLAMA_HOST = %q, want %q", got, DefaultHost)
	}

	t.Setenv(EnvHost, "gpu-box:11434")
	if got := BaseURLFromEnv(); got != "http://gpu-box:11434" {
		t.Errorf("BaseURLFromEnv() = %q", got)
	}
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	t.Setenv(EnvHost, "")
	c := NewClientWithConfig(&ClientConfig{})
	defer c.Close()

	if c.BaseURL() != DefaultHost {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
	if c.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", c.config.Timeout)
	}
	if c.config.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v", c.config.ConnectTimeout)
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessagesFromTurns(t *testing.T) {
	turns := []model.Turn{
		model.UserTurn("hi"),
		model.AssistantTurn("hello"),
	}

	msgs := MessagesFromTurns(turns)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0] != (Message{Role: "user", Content: "hi"}) {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1] != (Message{Role: "assistant", Content: "hello"}) {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}

	if got := MessagesFromTurns(nil); len(got) != 0 {
		t.Errorf("MessagesFromTurns(nil) = %v", got)
	}
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestStreamStats_Finish(t *testing.T) {
	var s StreamStats
	s.finish(chatLine{
		Done:            true,
		EvalCount:       100,
		EvalDuration:    int64(time.Second),
		PromptEvalCount: 12,
		TotalDuration:   int64(1500 * time.Millisecond),
		DoneReason:      "stop",
	})

	if s.TokensPerSecond != 100 {
		t.Errorf("TokensPerSecond = %v, want 100", s.TokensPerSecond)
	}
	if s.PromptTokens != 12 || s.CompletionTokens != 100 {
		t.Errorf("tokens = %d/%d", s.PromptTokens, s.CompletionTokens)
	}
	if got := s.Format(); got != "1.5s | 100 tokens | 100.0 tok/s | TTFT 0ms" {
		t.Errorf("Format() = %q", got)
	}
}

func TestStreamStats_ZeroDuration(t *testing.T) {
	var s StreamStats
	s.finish(chatLine{Done: true, EvalCount: 5})
	if s.TokensPerSecond != 0 {
		t.Errorf("TokensPerSecond = %v, want 0", s.TokensPerSecond)
	}
}

func TestModelInfo_SizeString(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{5 << 20, "5.0 MB"},
		{4_920_000_000, "4.6 GB"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := (ModelInfo{Size: tc.size}).SizeString(); got != tc.want {
				t.Errorf("SizeString() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	states := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateStreaming:  "streaming",
		StateCompleted:  "completed",
		StateFailed:     "failed",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
	if StateStreaming.Terminal() || !StateFailed.Terminal() || !StateCompleted.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
