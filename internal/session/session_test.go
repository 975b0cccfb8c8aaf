// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeStream struct {
	frags []string
	err   error // yielded after frags

	// hold, when set, blocks before each fragment until closed or ctx done
	hold <-chan struct{}
	ctx  context.Context

	mu     sync.Mutex
	closed bool
}

func (f *fakeStream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer f.Close()
		for _, frag := range f.frags {
			if f.hold != nil {
				select {
				case <-f.hold:
				case <-f.ctx.Done():
					yield("", &ollama.GenerationError{Message: "request cancelled", Cause: f.ctx.Err()})
					return
				}
			}
			if !yield(frag, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeCompleter struct {
	mu      sync.Mutex
	calls   [][]model.Turn
	configs []sampling.Config
	streams []*fakeStream

	next    func(ctx context.Context) *fakeStream
	openErr error
	started chan struct{}
}

func (c *fakeCompleter) Stream(ctx context.Context, history []model.Turn, cfg sampling.Config) (FragmentStream, error) {
	c.mu.Lock()
	c.calls = append(c.calls, history)
	c.configs = append(c.configs, cfg)
	c.mu.Unlock()

	if c.started != nil {
		close(c.started)
	}
	if c.openErr != nil {
		return nil, c.openErr
	}
	s := c.next(ctx)
	s.ctx = ctx
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

func replying(frags ...string) *fakeCompleter {
	return &fakeCompleter{next: func(context.Context) *fakeStream {
		return &fakeStream{frags: frags}
	}}
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []storage.Transcript
	err   error
}

func (a *fakeArchive) Save(ctx context.Context, t storage.Transcript) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.saved = append(a.saved, t)
	return nil
}

type recordingSink struct {
	frags []string
}

func (r *recordingSink) Fragment(text string) {
	r.frags = append(r.frags, text)
}

var cfg = sampling.Defaults("llama3.1")

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_HappyPath(t *testing.T) {
	comp := replying("Hel", "lo")
	sess := New(Config{Completer: comp})
	sink := &recordingSink{}

	reply, err := sess.Send(context.Background(), "Hi", cfg, sink)
	require.NoError(t, err)

	assert.Equal(t, "Hello", reply.Content)
	assert.Equal(t, 2, reply.Fragments)
	assert.False(t, reply.Partial)
	assert.Equal(t, []string{"Hel", "lo"}, sink.frags)

	snap := sess.Conversation().Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[0].Equal(model.Turn{Role: model.RoleUser, Content: "Hi"}))
	assert.True(t, snap[1].Equal(model.Turn{Role: model.RoleAssistant, Content: "Hello"}))
	assert.False(t, sess.Conversation().Streaming())
	assert.True(t, comp.streams[0].Closed())
	assert.False(t, sess.Busy())
}

func TestSend_HistoryIncludesPriorTurns(t *testing.T) {
	comp := replying("ok")
	sess := New(Config{Completer: comp, SystemPrompt: "  Be brief.  "})

	_, err := sess.Send(context.Background(), "one", cfg, nil)
	require.NoError(t, err)
	_, err = sess.Send(context.Background(), "two", cfg, nil)
	require.NoError(t, err)

	require.Len(t, comp.calls, 2)
	second := comp.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, model.RoleSystem, second[0].Role)
	assert.Equal(t, "Be brief.", second[0].Content)
	assert.Equal(t, "one", second[1].Content)
	assert.Equal(t, "ok", second[2].Content)
	assert.Equal(t, "two", second[3].Content)

	// The system prompt is never stored.
	assert.Equal(t, 4, sess.Conversation().Len())
	assert.Equal(t, model.RoleUser, sess.Conversation().Snapshot()[0].Role)
}

func TestSend_ForwardsConfig(t *testing.T) {
	comp := replying("x")
	sess := New(Config{Completer: comp})

	hot, err := cfg.With(sampling.KeyTemperature, 1)
	require.NoError(t, err)
	_, err = sess.Send(context.Background(), "hi", hot.WithModel("mistral"), nil)
	require.NoError(t, err)

	got := comp.configs[0]
	assert.Equal(t, "mistral", got.Model())
	v, _ := got.Float(sampling.KeyTemperature)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, "mistral", sess.Status().Model)
}

func TestSend_EmptyPrompt(t *testing.T) {
	comp := replying("x")
	sess := New(Config{Completer: comp})

	for _, p := range []string{"", "   ", "\n\t"} {
		_, err := sess.Send(context.Background(), p, cfg, nil)
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	}
	assert.Empty(t, comp.calls)
	assert.True(t, sess.Conversation().IsEmpty())
}

func TestSend_NormalizesPrompt(t *testing.T) {
	comp := replying("x")
	sess := New(Config{Completer: comp})

	_, err := sess.Send(context.Background(), "  café \n", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "café", sess.Conversation().Snapshot()[0].Content)
}

func TestSend_ConnectionErrorLeavesStoreUnchanged(t *testing.T) {
	comp := replying("never")
	sess := New(Config{Completer: comp})
	_, err := sess.Send(context.Background(), "first", cfg, nil)
	require.NoError(t, err)
	before := sess.Conversation().Snapshot()

	comp.openErr = &ollama.ConnectionError{URL: "http://127.0.0.1:11434", Cause: errors.New("connection refused")}
	sink := &recordingSink{}
	_, err = sess.Send(context.Background(), "second", cfg, sink)

	require.Error(t, err)
	assert.True(t, ollama.IsConnectionError(err))
	assert.Empty(t, sink.frags)

	after := sess.Conversation().Snapshot()
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].Equal(after[i]))
	}
	assert.False(t, sess.Conversation().Streaming())
}

func TestSend_GenerationErrorKeepsPartial(t *testing.T) {
	genErr := &ollama.GenerationError{Message: "out of memory"}
	comp := &fakeCompleter{next: func(context.Context) *fakeStream {
		return &fakeStream{frags: []string{"Par", "tial"}, err: genErr}
	}}
	sess := New(Config{Completer: comp})
	sink := &recordingSink{}

	reply, err := sess.Send(context.Background(), "Hi", cfg, sink)
	require.Error(t, err)
	assert.True(t, ollama.IsGenerationError(err))
	assert.True(t, reply.Partial)
	assert.Equal(t, "Partial", reply.Content)
	assert.Equal(t, []string{"Par", "tial"}, sink.frags)

	snap := sess.Conversation().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Partial", snap[1].Content)
	assert.False(t, sess.Conversation().Streaming(), "partial turn is finalized")

	// The session accepts the next prompt.
	comp.next = func(context.Context) *fakeStream { return &fakeStream{frags: []string{"ok"}} }
	_, err = sess.Send(context.Background(), "again", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Conversation().Len())
}

func TestSend_GenerationErrorBeforeFirstFragment(t *testing.T) {
	comp := &fakeCompleter{next: func(context.Context) *fakeStream {
		return &fakeStream{err: &ollama.GenerationError{Message: "model failed to load"}}
	}}
	sess := New(Config{Completer: comp})

	reply, err := sess.Send(context.Background(), "Hi", cfg, nil)
	require.Error(t, err)
	assert.True(t, ollama.IsGenerationError(err))
	assert.True(t, reply.Partial)
	assert.Zero(t, reply.Fragments)

	// The request was accepted, so the exchange is recorded with an empty
	// reply, finalized.
	snap := sess.Conversation().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, model.RoleUser, snap[0].Role)
	assert.Equal(t, model.RoleAssistant, snap[1].Role)
	assert.Empty(t, snap[1].Content)
	assert.False(t, sess.Conversation().Streaming())

	// and is part of the next request's history.
	comp.next = func(context.Context) *fakeStream { return &fakeStream{frags: []string{"ok"}} }
	_, err = sess.Send(context.Background(), "again", cfg, nil)
	require.NoError(t, err)
	require.Len(t, comp.calls[1], 3)
	assert.Empty(t, comp.calls[1][1].Content)
}

func TestSend_AccumulationMatchesSink(t *testing.T) {
	frags := []string{"The ", "quick ", "brown ", "fox", ""}
	sess := New(Config{Completer: replying(frags...)})
	var streamed string

	reply, err := sess.Send(context.Background(), "go", cfg, SinkFunc(func(s string) { streamed += s }))
	require.NoError(t, err)
	assert.Equal(t, streamed, reply.Content)
	assert.Equal(t, streamed, sess.Conversation().Snapshot()[1].Content)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func blockingCompleter(hold <-chan struct{}) *fakeCompleter {
	return &fakeCompleter{
		started: make(chan struct{}),
		next: func(context.Context) *fakeStream {
			return &fakeStream{frags: []string{"a", "b"}, hold: hold}
		},
	}
}

func TestSend_Busy(t *testing.T) {
	hold := make(chan struct{})
	comp := blockingCompleter(hold)
	sess := New(Config{Completer: comp})

	done := make(chan error, 1)
	go func() {
		_, err := sess.Send(context.Background(), "first", cfg, nil)
		done <- err
	}()
	<-comp.started

	_, err := sess.Send(context.Background(), "second", cfg, nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, sess.Restore(&storage.Transcript{}), ErrBusy)

	close(hold)
	require.NoError(t, <-done)
	assert.Equal(t, 2, sess.Conversation().Len())
}

func TestSend_CancelKeepsPartial(t *testing.T) {
	hold := make(chan struct{})
	comp := blockingCompleter(hold)
	sess := New(Config{Completer: comp})

	type result struct {
		reply Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		r, err := sess.Send(context.Background(), "first", cfg, nil)
		done <- result{r, err}
	}()
	<-comp.started

	// Wait until the assistant turn is open, then stop the reply.
	require.Eventually(t, sess.Conversation().Streaming, time.Second, time.Millisecond)
	sess.Cancel()

	res := <-done
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.True(t, res.reply.Partial)
	assert.Equal(t, 2, sess.Conversation().Len())
	assert.False(t, sess.Conversation().Streaming())
	close(hold)
}

func TestReset_DuringReply(t *testing.T) {
	hold := make(chan struct{})
	comp := blockingCompleter(hold)
	archive := &fakeArchive{}
	sess := New(Config{Completer: comp, Archive: archive})

	done := make(chan error, 1)
	go func() {
		_, err := sess.Send(context.Background(), "first", cfg, nil)
		done <- err
	}()
	<-comp.started
	require.Eventually(t, sess.Conversation().Streaming, time.Second, time.Millisecond)

	require.NoError(t, sess.Reset(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrReset)
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after Reset")
	}
	close(hold)

	assert.True(t, sess.Conversation().IsEmpty())
	require.Len(t, archive.saved, 1, "the interrupted exchange is archived on reset")
	assert.Len(t, archive.saved[0].Turns, 2)
}

// =============================================================================
// RESET / ARCHIVE TESTS
// =============================================================================

func TestReset_ClearsAndArchives(t *testing.T) {
	archive := &fakeArchive{}
	sess := New(Config{Completer: replying("Hello"), Archive: archive})

	_, err := sess.Send(context.Background(), "Hi", cfg, nil)
	require.NoError(t, err)
	firstID := sess.TranscriptID()

	require.Len(t, archive.saved, 1, "autosave after the reply")
	assert.False(t, sess.IsDirty())

	require.NoError(t, sess.Reset(context.Background()))
	assert.True(t, sess.Conversation().IsEmpty())
	assert.NotEqual(t, firstID, sess.TranscriptID())

	require.Len(t, archive.saved, 2)
	last := archive.saved[1]
	assert.Equal(t, firstID, last.ID)
	assert.Equal(t, sess.ID(), last.SessionID)
	assert.Equal(t, "llama3.1", last.Model)
	assert.Len(t, last.Turns, 2)
}

func TestReset_EmptyDoesNotArchive(t *testing.T) {
	archive := &fakeArchive{}
	sess := New(Config{Completer: replying("x"), Archive: archive})

	require.NoError(t, sess.Reset(context.Background()))
	assert.Empty(t, archive.saved)
}

func TestReset_ArchiveErrorStillResets(t *testing.T) {
	archive := &fakeArchive{}
	sess := New(Config{Completer: replying("x"), Archive: archive})
	_, err := sess.Send(context.Background(), "Hi", cfg, nil)
	require.NoError(t, err)

	archive.err = errors.New("disk full")
	err = sess.Reset(context.Background())
	assert.EqualError(t, err, "disk full")
	assert.True(t, sess.Conversation().IsEmpty())
}

func TestSend_AutosaveFailureIsNotFatal(t *testing.T) {
	archive := &fakeArchive{err: errors.New("locked")}
	sess := New(Config{Completer: replying("x"), Archive: archive})

	_, err := sess.Send(context.Background(), "Hi", cfg, nil)
	require.NoError(t, err)
	assert.True(t, sess.IsDirty())
}

func TestRestore(t *testing.T) {
	sess := New(Config{Completer: replying("next")})
	tr := &storage.Transcript{
		ID:    "tr_restored",
		Model: "mistral",
		Turns: []model.Turn{
			model.NewTurn(model.RoleSystem, "ignored"),
			model.UserTurn("q"),
			model.AssistantTurn("a"),
		},
	}

	require.NoError(t, sess.Restore(tr))
	assert.Equal(t, "tr_restored", sess.TranscriptID())
	assert.Equal(t, 2, sess.Conversation().Len())
	assert.Equal(t, "mistral", sess.Status().Model)

	_, err := sess.Send(context.Background(), "more", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Conversation().Len())
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestStatus(t *testing.T) {
	sess := New(Config{Completer: replying("x")})
	_, err := sess.Send(context.Background(), "Hi", cfg, nil)
	require.NoError(t, err)

	st := sess.Status()
	assert.Equal(t, sess.ID(), st.SessionID)
	assert.Equal(t, 2, st.Turns)
	assert.Equal(t, 1, st.Exchanges)
	assert.False(t, st.Streaming)
	assert.True(t, st.IsDirty, "no archive configured")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{2 * time.Minute, "2m"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{90 * time.Minute, "1h 30m"},
	}
	for _, tc := range tests {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
