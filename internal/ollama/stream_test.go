// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
)

// =============================================================================
// FAKE SERVER
// =============================================================================

func fragmentLine(s string) string {
	b, _ := json.Marshal(chatLine{Model: "llama3.1", Message: Message{Role: "assistant", Content: s}})
	return string(b)
}

func doneLine(evalCount int) string {
	b, _ := json.Marshal(chatLine{
		Model:        "llama3.1",
		Message:      Message{Role: "assistant"},
		Done:         true,
		DoneReason:   "stop",
		EvalCount:    evalCount,
		EvalDuration: int64(time.Second),
	})
	return string(b)
}

// ndjson returns a handler that writes each line and flushes.
func ndjson(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			io.WriteString(w, line+"\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, ConnectTimeout: time.Second})
	t.Cleanup(c.Close)
	return c, srv
}

func history() []model.Turn {
	return []model.Turn{model.UserTurn("Hi")}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStream_RequestShape(t *testing.T) {
	var got map[string]any
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		ndjson(doneLine(0))(w, r)
	})
	c, _ := newTestClient(t, h)

	b := sampling.NewBuilder("mistral")
	require.NoError(t, b.Set(sampling.KeyTemperature, 0.3))
	b.SetStop("END")

	hist := []model.Turn{model.UserTurn("Hi"), model.AssistantTurn("Hello"), model.UserTurn("Bye")}
	s, err := c.Stream(context.Background(), hist, b.Build())
	require.NoError(t, err)
	_, err = s.Collect()
	require.NoError(t, err)

	assert.Equal(t, "mistral", got["model"])
	assert.Equal(t, true, got["stream"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, map[string]any{"role": "assistant", "content": "Hello"}, msgs[1])

	opts := got["options"].(map[string]any)
	assert.Equal(t, 0.3, opts["temperature"])
	assert.Equal(t, float64(40), opts["top_k"])
	assert.Equal(t, []any{"END"}, opts["stop"])
	assert.NotContains(t, opts, "seed")
	assert.NotContains(t, opts, "mirostat")
}

func TestStream_Accumulation(t *testing.T) {
	c, _ := newTestClient(t, ndjson(fragmentLine("Hel"), fragmentLine("lo"), doneLine(2)))

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())

	var frags []string
	for frag, err := range s.Fragments() {
		require.NoError(t, err)
		frags = append(frags, frag)
	}

	assert.Equal(t, []string{"Hel", "lo"}, frags)
	assert.Equal(t, "Hello", strings.Join(frags, ""))
	assert.Equal(t, StateCompleted, s.State())
	assert.NoError(t, s.Err())

	stats := s.Stats()
	assert.Equal(t, 2, stats.Fragments)
	assert.Equal(t, 2, stats.CompletionTokens)
	assert.Equal(t, "stop", stats.DoneReason)
}

func TestStream_NextAfterCompletion(t *testing.T) {
	c, _ := newTestClient(t, ndjson(fragmentLine("a"), doneLine(1)))

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)

	frag, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", frag)

	for i := 0; i < 3; i++ {
		_, err = s.Next()
		assert.Equal(t, io.EOF, err)
	}
	assert.NoError(t, s.Close())
	assert.Equal(t, StateCompleted, s.State(), "Close after completion keeps Completed")
}

func TestStream_ContentOnFinalLine(t *testing.T) {
	final, _ := json.Marshal(chatLine{Message: Message{Role: "assistant", Content: "!"}, Done: true})
	c, _ := newTestClient(t, ndjson(fragmentLine("Hi"), string(final)))

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)

	got, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hi!", got)
}

func TestStream_SkipsBlankLines(t *testing.T) {
	c, _ := newTestClient(t, ndjson("", fragmentLine("x"), "   ", doneLine(1)))

	got, err := c.Complete(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

// =============================================================================
// CONNECTION ERROR TESTS
// =============================================================================

func TestStream_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url, ConnectTimeout: time.Second})
	defer c.Close()

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, IsConnectionError(err))
	assert.False(t, IsGenerationError(err))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 0, connErr.Status)
	assert.Contains(t, err.Error(), url)
}

func TestStream_ModelNotFound(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	})
	c, _ := newTestClient(t, h)

	_, err := c.Stream(context.Background(), history(), sampling.Defaults("nope"))
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.True(t, IsModelNotFound(err))
	assert.Contains(t, err.Error(), "try pulling it first")
}

func TestStream_ServerError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, h)

	_, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, http.StatusInternalServerError, connErr.Status)
	assert.Equal(t, "boom", connErr.Message)
	assert.False(t, IsModelNotFound(err))
}

// =============================================================================
// GENERATION ERROR TESTS
// =============================================================================

func TestStream_MidStreamError(t *testing.T) {
	c, _ := newTestClient(t, ndjson(fragmentLine("Hel"), `{"error":"out of memory"}`))

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)

	var frags []string
	var streamErr error
	for frag, err := range s.Fragments() {
		if err != nil {
			streamErr = err
			continue
		}
		frags = append(frags, frag)
	}

	assert.Equal(t, []string{"Hel"}, frags, "fragments before the failure are kept")
	require.Error(t, streamErr)
	assert.True(t, IsGenerationError(streamErr))
	assert.Contains(t, streamErr.Error(), "out of memory")
	assert.Equal(t, StateFailed, s.State())

	// sticky
	_, err = s.Next()
	assert.Equal(t, streamErr, err)
}

func TestStream_TruncatedStream(t *testing.T) {
	c, _ := newTestClient(t, ndjson(fragmentLine("partial")))

	got, err := c.Complete(context.Background(), history(), sampling.Defaults("llama3.1"))
	assert.Equal(t, "partial", got)
	require.Error(t, err)
	assert.True(t, IsGenerationError(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStream_MalformedLine(t *testing.T) {
	c, _ := newTestClient(t, ndjson(fragmentLine("ok"), "{not json", doneLine(1)))

	got, err := c.Complete(context.Background(), history(), sampling.Defaults("llama3.1"))
	assert.Equal(t, "ok", got)
	assert.True(t, IsGenerationError(err))
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

// blockingHandler writes one fragment, then holds the request open until
// the client goes away.
func blockingHandler(gone chan<- struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, fragmentLine("first")+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(gone)
	}
}

func TestStream_EarlyBreakCancelsRequest(t *testing.T) {
	gone := make(chan struct{})
	c, _ := newTestClient(t, blockingHandler(gone))

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)

	for frag, err := range s.Fragments() {
		require.NoError(t, err)
		assert.Equal(t, "first", frag)
		break
	}

	select {
	case <-gone:
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not cancelled after the consumer stopped")
	}
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrStreamClosed)
}

func TestStream_CloseUnblocksNext(t *testing.T) {
	gone := make(chan struct{})
	c, _ := newTestClient(t, blockingHandler(gone))

	s, err := c.Stream(context.Background(), history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)

	frag, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", frag)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	<-gone
}

func TestStream_ContextCancel(t *testing.T) {
	gone := make(chan struct{})
	c, _ := newTestClient(t, blockingHandler(gone))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := c.Stream(ctx, history(), sampling.Defaults("llama3.1"))
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)

	cancel()
	_, err = s.Next()
	require.Error(t, err)
	assert.True(t, IsGenerationError(err))
	assert.True(t, errors.Is(err, context.Canceled))
	<-gone
}

// =============================================================================
// MODEL LISTING TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "Ollama is running")
		case "/api/tags":
			json.NewEncoder(w).Encode(ListModelsResponse{Models: []ModelInfo{
				{Name: "llama3.1:latest", Size: 4_920_000_000, Details: ModelDetails{Family: "llama"}},
				{Name: "mistral:latest"},
			}})
		default:
			http.NotFound(w, r)
		}
	})
	c, _ := newTestClient(t, h)

	require.NoError(t, c.CheckRunning(context.Background()))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.1:latest", models[0].Name)
	assert.Equal(t, "llama", models[0].Details.Family)
}

func TestCheckRunning_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	defer c.Close()

	err := c.CheckRunning(context.Background())
	assert.True(t, IsConnectionError(err))

	_, err = c.ListModels(context.Background())
	assert.True(t, IsConnectionError(err))
}
