// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

func TestMain(m *testing.M) {
	ForceColorsEnabled(false)
	os.Exit(m.Run())
}

// =============================================================================
// FAKE OLLAMA
// =============================================================================

// fakeOllama serves the endpoints the CLI uses and records chat requests.
type fakeOllama struct {
	srv *httptest.Server

	mu       sync.Mutex
	models   []string
	reply    []string
	status   int
	requests []map[string]any
}

func newFakeOllama(t *testing.T, models ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{models: models, reply: []string{"Hello", " world"}, status: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOllama) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/":
		io.WriteString(w, "Ollama is running")

	case "/api/tags":
		var resp ollama.ListModelsResponse
		for _, name := range f.models {
			resp.Models = append(resp.Models, ollama.ModelInfo{
				Name:    name,
				Size:    4_920_000_000,
				Details: ollama.ModelDetails{Family: "llama", ParameterSize: "8B", QuantizationLevel: "Q4_0"},
			})
		}
		json.NewEncoder(w).Encode(resp)

	case "/api/chat":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.requests = append(f.requests, body)

		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			fmt.Fprintf(w, `{"error":"model %q not found, try pulling it first"}`, body["model"])
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, frag := range f.reply {
			enc.Encode(map[string]any{
				"model":   body["model"],
				"message": map[string]string{"role": "assistant", "content": frag},
				"done":    false,
			})
		}
		enc.Encode(map[string]any{
			"model":       body["model"],
			"message":     map[string]string{"role": "assistant", "content": ""},
			"done":        true,
			"done_reason": "stop",
			"eval_count":  2,
		})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) lastRequest(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "no chat request received")
	return f.requests[len(f.requests)-1]
}

// =============================================================================
// HELPERS
// =============================================================================

// isolate points HOME at a temp dir and clears the environment overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, key := range []string{"OLLAMA_HOST", "LOCALCHAT_MODEL", "LOCALCHAT_LOG_LEVEL", "LOCALCHAT_HISTORY"} {
		t.Setenv(key, "")
	}
	return home
}

type exitPanic int

type result struct {
	stdout string
	stderr string
	err    error
	exited int // -1 when kong did not call Exit
}

// localchat runs the CLI in-process with the given stdin.
func localchat(t *testing.T, stdin string, args ...string) (res result) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cc := NewCliConfig()
	cc.Stdin = strings.NewReader(stdin)
	cc.Stdout = &stdout
	cc.Stderr = &stderr
	cc.Exit = func(code int) { panic(exitPanic(code)) }

	res.exited = -1
	defer func() {
		if r := recover(); r != nil {
			code, ok := r.(exitPanic)
			if !ok {
				panic(r)
			}
			res.exited = int(code)
		}
		res.stdout = stdout.String()
		res.stderr = stderr.String()
	}()

	res.err = Run(args, cc)
	return res
}

// =============================================================================
// PARSING
// =============================================================================

func TestRun_Version(t *testing.T) {
	isolate(t)
	res := localchat(t, "", "--version")

	assert.Equal(t, 0, res.exited)
	assert.Contains(t, res.stdout, "localchat "+Version)
}

func TestRun_Help(t *testing.T) {
	isolate(t)
	res := localchat(t, "", "--help")

	assert.Equal(t, 0, res.exited)
	for _, cmd := range []string{"tui", "chat", "ask", "models", "params", "history", "doctor"} {
		assert.Contains(t, res.stdout, cmd)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	isolate(t)
	res := localchat(t, "", "models", "--bogus")

	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, ExitCode(res.err))
}

func TestRun_InvalidConfig(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sampling]\nmodel = \"llama3.1\"\n[sampling.params]\ntemperature = 7.0\n"), 0600))

	res := localchat(t, "", "--config", path, "params")
	require.Error(t, res.err)
	assert.Equal(t, ExitConfigError, ExitCode(res.err))
}

// =============================================================================
// MODELS
// =============================================================================

func TestModels_Table(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "mistral:latest", "llama3.1")

	res := localchat(t, "", "--host", srv.srv.URL, "-m", "llama3.1", "models")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "NAME")
	assert.Contains(t, res.stdout, "* llama3.1")
	assert.Contains(t, res.stdout, "mistral:latest")
	assert.Contains(t, res.stdout, ollama.ModelInfo{Size: 4_920_000_000}.SizeString())
	assert.Contains(t, res.stdout, "Not installed")
	assert.Contains(t, res.stdout, "deepseek-v3.1")
	assert.Contains(t, res.stdout, "128K context")
}

func TestModels_JSON(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "llama3.1")

	res := localchat(t, "", "--host", srv.srv.URL, "-m", "llama3.1", "models", "--json")
	require.NoError(t, res.err)

	var resp struct {
		Success bool        `json:"success"`
		Data    []ModelData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "llama3.1", resp.Data[0].Name)
	assert.True(t, resp.Data[0].Current)
	assert.Equal(t, "8B", resp.Data[0].ParameterSize)
}

func TestModels_Unreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := localchat(t, "", "--host", url, "models")
	require.Error(t, res.err)
	assert.Equal(t, ExitNetworkError, ExitCode(res.err))
	assert.Equal(t, "Is Ollama running? Start it with: ollama serve", Hint(res.err, "llama3.1"))
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsReply(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "llama3.1")

	res := localchat(t, "", "--host", srv.srv.URL, "-m", "llama3.1",
		"ask", "--set", "temperature=0.25", "--stop", "END", "Say", "hello")
	require.NoError(t, res.err)
	assert.Equal(t, "Hello world\n", res.stdout)

	req := srv.lastRequest(t)
	assert.Equal(t, "llama3.1", req["model"])
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Say hello", msgs[0].(map[string]any)["content"])

	opts := req["options"].(map[string]any)
	assert.Equal(t, 0.25, opts["temperature"])
	assert.Equal(t, []any{"END"}, opts["stop"])
}

func TestAsk_ReadsStdinAndSystemPrompt(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "llama3.1")

	res := localchat(t, "  what is a goroutine?\n", "--host", srv.srv.URL, "ask", "-s", "Be brief")
	require.NoError(t, res.err)

	msgs := srv.lastRequest(t)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Be brief", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "what is a goroutine?", msgs[1].(map[string]any)["content"])
}

func TestAsk_EmptyPrompt(t *testing.T) {
	isolate(t)
	res := localchat(t, "   \n", "ask")

	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, ExitCode(res.err))
}

func TestAsk_OutOfRangeOverride(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "llama3.1")

	res := localchat(t, "", "--host", srv.srv.URL, "ask", "--set", "top_p=3", "hi")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, ExitCode(res.err))
	assert.Empty(t, srv.requests)
}

func TestAsk_ModelNotFound(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)
	srv.status = http.StatusNotFound

	var stderr bytes.Buffer
	cc := NewCliConfig()
	cc.Stdin = strings.NewReader("")
	cc.Stdout = io.Discard
	cc.Stderr = &stderr

	code := Main([]string{"--host", srv.srv.URL, "-m", "phi3", "ask", "hi"}, cc)
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, stderr.String(), "Error:")
	assert.Contains(t, stderr.String(), "ollama pull phi3")
}

// =============================================================================
// PARAMS
// =============================================================================

func TestParams_Show(t *testing.T) {
	isolate(t)
	res := localchat(t, "", "-m", "mistral", "params")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "mistral")
	assert.Contains(t, res.stdout, "Temperature")
	assert.Contains(t, res.stdout, "0..1")
	assert.Contains(t, res.stdout, "random")
	assert.NotContains(t, res.stdout, "Saved to")
}

func TestParams_WriteAndReload(t *testing.T) {
	home := isolate(t)

	res := localchat(t, "", "params", "--set", "temperature=0.3", "--stop", "</s>", "--write")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Saved to")

	data, err := os.ReadFile(filepath.Join(home, ".localchat", "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "temperature = 0.3")
	assert.Contains(t, string(data), "</s>")

	res = localchat(t, "", "params", "--json")
	require.NoError(t, res.err)

	var resp struct {
		Data ParamsData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	for _, p := range resp.Data.Params {
		switch p.Key {
		case "temperature":
			require.NotNil(t, p.Value)
			assert.InDelta(t, 0.3, *p.Value, 1e-9)
		case "stop":
			assert.Equal(t, []string{"</s>"}, p.Stop)
		}
	}
}

func TestParams_NotSavedWithoutWrite(t *testing.T) {
	home := isolate(t)

	res := localchat(t, "", "params", "--unset", "seed", "--set", "top_k=10")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "add --write")

	_, err := os.Stat(filepath.Join(home, ".localchat", "config.toml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParams_UnknownKey(t *testing.T) {
	isolate(t)
	res := localchat(t, "", "params", "--set", "warmth=1")

	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, ExitCode(res.err))
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_Lifecycle(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "llama3.1")

	res := localchat(t, "", "--host", srv.srv.URL, "ask", "--save", "Tell me about channels")
	require.NoError(t, res.err)

	res = localchat(t, "", "history", "list", "--json")
	require.NoError(t, res.err)
	var list struct {
		Data []storage.TranscriptMeta `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &list))
	require.Len(t, list.Data, 1)
	meta := list.Data[0]
	assert.Equal(t, 2, meta.TurnCount)
	assert.Contains(t, meta.Title, "Tell me about channels")

	short := storage.ShortID(meta.ID)

	res = localchat(t, "", "history")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, short)

	res = localchat(t, "", "history", "show", short)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Tell me about channels")
	assert.Contains(t, res.stdout, "Hello world")

	res = localchat(t, "", "history", "show", short, "--format", "markdown")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Hello world")

	res = localchat(t, "", "history", "search", "channels")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, short)

	// Stdin is not a terminal, so deleting needs --yes.
	res = localchat(t, "y\n", "history", "delete", short)
	require.Error(t, res.err)

	res = localchat(t, "", "history", "delete", short, "--yes")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Deleted")

	res = localchat(t, "", "history", "show", short)
	require.Error(t, res.err)
	assert.Equal(t, ExitNotFoundError, ExitCode(res.err))
}

func TestHistory_SearchEmptyQuery(t *testing.T) {
	isolate(t)
	res := localchat(t, "", "history", "search", " ")

	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, ExitCode(res.err))
}

// =============================================================================
// DOCTOR
// =============================================================================

func TestDoctor_Healthy(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "llama3.1:latest")

	res := localchat(t, "", "--host", srv.srv.URL, "-m", "llama3.1", "doctor", "--json")
	require.NoError(t, res.err)

	var resp struct {
		Success bool       `json:"success"`
		Data    DoctorData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.Summary.Healthy)

	names := make(map[string]string)
	for _, c := range resp.Data.Checks {
		names[c.Name] = c.Status
	}
	assert.Equal(t, "pass", names["Ollama Running"])
	assert.Equal(t, "pass", names["Model Available"])
	assert.Equal(t, "pass", names["History Writable"])
}

func TestDoctor_MissingModel(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "mistral")

	res := localchat(t, "", "--host", srv.srv.URL, "-m", "llama3.1", "doctor")
	require.Error(t, res.err)
	assert.Contains(t, res.stdout, "Model llama3.1 not installed")
	assert.Contains(t, res.stdout, "ollama pull llama3.1")
}

// =============================================================================
// ERRORS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Err: errors.New("bad flag")}, ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad file")}, ExitConfigError},
		{"unreachable", &ollama.ConnectionError{URL: "http://x", Cause: errors.New("refused")}, ExitNetworkError},
		{"model not found", &ollama.ConnectionError{URL: "http://x", Status: 404}, ExitGeneralError},
		{"transcript not found", &CommandError{Command: "history", Action: "show", Err: storage.ErrTranscriptNotFound}, ExitNotFoundError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRequireConfirmation(t *testing.T) {
	var out bytes.Buffer

	ok, err := RequireConfirmation(strings.NewReader(""), &out, "delete", ConfirmationOptions{Yes: true})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = RequireConfirmation(strings.NewReader("y\n"), &out, "delete", ConfirmationOptions{})
	assert.ErrorIs(t, err, errConfirmationRequired)

	ok, err = RequireConfirmation(strings.NewReader("yes\n"), &out, "delete it", ConfirmationOptions{Interactive: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "delete it? [y/N]")

	ok, err = RequireConfirmation(strings.NewReader("\n"), &out, "delete", ConfirmationOptions{Interactive: true})
	require.NoError(t, err)
	assert.False(t, ok)
}
