// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Race detection tests for the shared state of localchat.
//
// Run with: go test -race -v ./internal/...
//
// The render loop reads the conversation while the reply goroutine writes
// it; these tests exercise that pattern and the other shared components.
package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/session"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

// =============================================================================
// TEST CONFIGURATION
// =============================================================================

const (
	// Number of concurrent goroutines for race tests
	raceConcurrency = 50
	// Number of iterations per goroutine
	raceIterations = 50
	// Timeout for race tests
	raceTimeout = 30 * time.Second
)

// =============================================================================
// CONVERSATION
// =============================================================================

// TestConcurrency_SnapshotWhileStreaming reads snapshots while a turn is
// extended. Every snapshot must see a prefix of the final content.
func TestConcurrency_SnapshotWhileStreaming(t *testing.T) {
	conv := model.NewConversation()
	require.NoError(t, conv.Append(model.UserTurn("count")))

	h, err := conv.BeginStreamingTurn(model.RoleAssistant)
	require.NoError(t, err)

	var want string
	for i := 0; i < raceIterations; i++ {
		want += fmt.Sprintf("%d ", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var bad atomic.Int32
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				turns := conv.Snapshot()
				if len(turns) != 2 || len(turns[1].Content) > len(want) || want[:len(turns[1].Content)] != turns[1].Content {
					bad.Add(1)
				}
				if !conv.Streaming() {
					return
				}
			}
		}()
	}

	for i := 0; i < raceIterations; i++ {
		require.NoError(t, h.Extend(fmt.Sprintf("%d ", i)))
	}
	require.NoError(t, h.Finalize())
	wg.Wait()

	assert.Zero(t, bad.Load(), "a snapshot saw content that is not a prefix")
	assert.Equal(t, want, conv.Snapshot()[1].Content)
}

// TestConcurrency_SingleStreamingTurn opens streaming turns from many
// goroutines; exactly one may win.
func TestConcurrency_SingleStreamingTurn(t *testing.T) {
	conv := model.NewConversation()

	var wg sync.WaitGroup
	var opened atomic.Int32
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conv.BeginStreamingTurn(model.RoleAssistant); err == nil {
				opened.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, 1, conv.Len())
}

// =============================================================================
// SESSION
// =============================================================================

// TestConcurrency_SessionSendOneAtATime sends from many goroutines; the
// others get ErrBusy and the conversation stays paired.
func TestConcurrency_SessionSendOneAtATime(t *testing.T) {
	_, client, _ := setup(t)
	sess := session.New(session.Config{Completer: session.NewOllamaCompleter(client)})
	params := sampling.Defaults(model.DefaultModel)

	var wg sync.WaitGroup
	var sent, busy atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sess.Send(context.Background(), fmt.Sprintf("msg %d", i), params, nil)
			switch {
			case err == nil:
				sent.Add(1)
			case err == session.ErrBusy:
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}

	// Render loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < raceIterations; i++ {
			_ = sess.Conversation().Snapshot()
			_ = sess.Status()
		}
	}()

	wg.Wait()
	<-done

	assert.Equal(t, int32(10), sent.Load()+busy.Load())
	assert.Equal(t, int(sent.Load())*2, sess.Conversation().Len())

	turns := sess.Conversation().Snapshot()
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, model.RoleUser, turns[i].Role)
		assert.Equal(t, model.RoleAssistant, turns[i+1].Role)
	}
}

// TestConcurrency_ResetDuringReplies resets while replies stream.
func TestConcurrency_ResetDuringReplies(t *testing.T) {
	_, client, archive := setup(t)
	sess := session.New(session.Config{Completer: session.NewOllamaCompleter(client), Archive: archive})
	params := sampling.Defaults(model.DefaultModel)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			sess.Send(ctx, "hello", params, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			sess.Reset(ctx)
		}
	}()
	wg.Wait()

	assert.False(t, sess.Busy())
	assert.False(t, sess.Conversation().Streaming())
	assert.Equal(t, 0, sess.Conversation().Len()%2, "turns stay paired")
}

// =============================================================================
// SAMPLING AND STORAGE
// =============================================================================

// TestConcurrency_SamplingConfigShared derives configs from one shared
// value; the shared value never changes.
func TestConcurrency_SamplingConfigShared(t *testing.T) {
	base := sampling.Defaults(model.DefaultModel)

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				next, err := base.With(sampling.KeyTopK, float64(i+j))
				if err == nil {
					_ = next.Options()
				}
				_ = base.WithStop([]string{"x"}).Stop()
				_ = base.String()
			}
		}(i)
	}
	wg.Wait()

	topK, _ := base.Int(sampling.KeyTopK)
	assert.Equal(t, 40, topK)
	assert.Empty(t, base.Stop())
}

// TestConcurrency_ArchiveWriters saves transcripts from many goroutines.
func TestConcurrency_ArchiveWriters(t *testing.T) {
	archive, err := storage.OpenWithConfig(storage.Config{Path: filepath.Join(t.TempDir(), "h.db"), MaxTranscripts: 5})
	require.NoError(t, err)
	defer archive.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := storage.Transcript{
				ID:    storage.NewTranscriptID(),
				Model: model.DefaultModel,
				Turns: []model.Turn{model.UserTurn(fmt.Sprintf("q%d", i)), model.AssistantTurn("a")},
			}
			assert.NoError(t, archive.Save(ctx, tr))
			_, _ = archive.List(ctx, 10)
		}(i)
	}
	wg.Wait()

	n, err := archive.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "oldest transcripts are pruned")
}
