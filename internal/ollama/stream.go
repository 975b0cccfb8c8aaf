// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// STREAM STATE
// =============================================================================

// State is the lifecycle of one Stream call.
//
//	Idle -> Connecting -> Streaming -> Completed
//	           |              |
//	           +-> Failed <---+
//
// Completed and Failed are terminal.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a forward-only, non-restartable sequence of reply fragments.
//
// Next and Fragments must be called from one goroutine. Close and State may
// be called from any goroutine; Close unblocks a pending Next.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	model  string
	log    zerolog.Logger

	body   io.ReadCloser
	reader *bufio.Reader

	// doneAfter is set when the final line also carried content
	doneAfter bool

	closed    atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	err       error
	fragments int
	stats     StreamStats
}

func newStream(ctx context.Context, cancel context.CancelFunc, model string, log zerolog.Logger) *Stream {
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		model:  model,
		log:    log,
		state:  StateIdle,
		stats:  StreamStats{StartTime: time.Now()},
	}
}

// attach hands the response body to the stream once headers arrived.
func (s *Stream) attach(body io.ReadCloser) {
	s.body = body
	s.reader = bufio.NewReaderSize(body, 16<<10)
	s.transition(StateStreaming)
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Model returns the model the request was sent to.
func (s *Stream) Model() string {
	return s.model
}

// Err returns the error that ended the stream, nil while streaming or
// after a normal completion.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns timing and token statistics. Server-side counters are only
// filled once the stream completed.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Next returns the next fragment. It returns io.EOF once the server
// signalled completion, a *GenerationError if the server failed mid-stream,
// and ErrStreamClosed after Close. Errors are sticky.
func (s *Stream) Next() (string, error) {
	if err := s.terminalErr(); err != nil {
		return "", err
	}
	if s.doneAfter {
		s.complete()
		return "", io.EOF
	}

	for {
		line, readErr := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			frag, done, err := s.parseLine(line)
			if err != nil {
				return "", s.fail(err)
			}
			if frag != "" {
				s.recordFragment()
				if done {
					s.doneAfter = true
				}
				return frag, nil
			}
			if done {
				s.complete()
				return "", io.EOF
			}
		}

		if readErr != nil {
			return "", s.fail(s.readFailure(readErr))
		}
	}
}

// Fragments adapts the stream to a range-over-func iterator. The iterator
// yields each fragment with a nil error, then at most one final error
// (never io.EOF). Breaking out of the loop closes the stream and cancels
// the request.
func (s *Stream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			frag, err := s.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// Collect drains the stream and returns the concatenated reply. On error
// the partial reply is returned with it.
func (s *Stream) Collect() (string, error) {
	var sb strings.Builder
	for frag, err := range s.Fragments() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
	return sb.String(), nil
}

// Close abandons the stream: the request is cancelled and the connection
// released. Safe to call more than once and after completion.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		if s.body != nil {
			s.body.Close()
		}

		s.mu.Lock()
		abandoned := !s.state.Terminal()
		if abandoned {
			s.state = StateFailed
			s.err = ErrStreamClosed
			s.stats.EndTime = time.Now()
		}
		fragments := s.fragments
		s.mu.Unlock()

		if abandoned {
			s.log.Debug().Str("model", s.model).Int("fragments", fragments).Msg("stream abandoned")
		}
	})
	return nil
}

// =============================================================================
// LINE PARSING
// =============================================================================

// parseLine decodes one NDJSON line into a fragment and completion flag.
func (s *Stream) parseLine(line []byte) (string, bool, error) {
	var resp chatLine
	if err := json.Unmarshal(line, &resp); err != nil {
		return "", false, &GenerationError{Message: "malformed response line", Cause: err}
	}
	if resp.Error != "" {
		return "", false, &GenerationError{Message: resp.Error}
	}
	if resp.Done {
		s.mu.Lock()
		s.stats.finish(resp)
		s.mu.Unlock()
	}
	return resp.Message.Content, resp.Done, nil
}

func (s *Stream) readFailure(err error) error {
	switch {
	case s.closed.Load():
		return ErrStreamClosed
	case s.ctx.Err() != nil:
		return &GenerationError{Message: "request cancelled", Cause: s.ctx.Err()}
	case errors.Is(err, io.EOF):
		return &GenerationError{Message: "stream ended before completion", Cause: io.ErrUnexpectedEOF}
	default:
		return &GenerationError{Message: "read failed", Cause: err}
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Stream) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = to
}

func (s *Stream) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCompleted:
		return io.EOF
	case StateFailed:
		return s.err
	}
	return nil
}

func (s *Stream) recordFragment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments++
	if s.fragments == 1 {
		s.stats.FirstTokenTime = time.Now()
		s.stats.TTFT = s.stats.FirstTokenTime.Sub(s.stats.StartTime)
	}
	s.stats.Fragments = s.fragments
}

func (s *Stream) complete() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.stats.EndTime = time.Now()
	stats := s.stats
	s.mu.Unlock()

	s.log.Debug().
		Str("model", s.model).
		Int("fragments", stats.Fragments).
		Int("completion_tokens", stats.CompletionTokens).
		Dur("ttft", stats.TTFT).
		Msg("stream completed")

	// Release the connection; there is nothing left to read.
	s.Close()
}

// fail moves the stream to Failed and records err. A nil err marks a
// connection failure that was already reported to the caller.
func (s *Stream) fail(err error) error {
	s.mu.Lock()
	if s.state.Terminal() {
		prev := s.err
		s.mu.Unlock()
		return prev
	}
	s.state = StateFailed
	s.err = err
	s.stats.EndTime = time.Now()
	fragments := s.fragments
	s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrStreamClosed) {
		s.log.Warn().Err(err).Str("model", s.model).Int("fragments", fragments).Msg("stream failed")
	}
	if s.body != nil {
		s.Close()
	}
	return err
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	// Timing
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	// Durations (from Ollama response)
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration

	// Token counts
	PromptTokens     int
	CompletionTokens int
	Fragments        int
	DoneReason       string

	// Computed
	TTFT            time.Duration // Time to first token
	TokensPerSecond float64
}

// finish copies the server counters from the final line.
func (s *StreamStats) finish(line chatLine) {
	s.TotalDuration = time.Duration(line.TotalDuration)
	s.LoadDuration = time.Duration(line.LoadDuration)
	s.PromptEvalDuration = time.Duration(line.PromptEvalDuration)
	s.EvalDuration = time.Duration(line.EvalDuration)
	s.PromptTokens = line.PromptEvalCount
	s.CompletionTokens = line.EvalCount
	s.DoneReason = line.DoneReason

	if s.EvalDuration > 0 {
		s.TokensPerSecond = float64(s.CompletionTokens) / s.EvalDuration.Seconds()
	}
}

// Format returns a one-line summary for status bars.
func (s StreamStats) Format() string {
	total := s.TotalDuration
	if total == 0 && !s.EndTime.IsZero() {
		total = s.EndTime.Sub(s.StartTime)
	}
	return formatDuration(total) + " | " +
		formatInt(s.CompletionTokens) + " tokens | " +
		formatFloat(s.TokensPerSecond) + " tok/s | " +
		"TTFT " + formatInt(int(s.TTFT.Milliseconds())) + "ms"
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func formatInt(n int) string {
	return fmt.Sprintf("%d", n)
}

// formatFloat formats a float with one decimal place.
func formatFloat(f float64) string {
	return fmt.Sprintf("%.1f", f)
}

// formatDuration formats a duration as "850ms" or "2.4s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return formatInt(int(d.Milliseconds())) + "ms"
	}
	return formatFloat(d.Seconds()) + "s"
}
