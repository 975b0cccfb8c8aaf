// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one chat session: it owns the conversation and
// drives each exchange with the model.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/ollama"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyPrompt is returned by Send for blank input.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrBusy is returned when a reply is still streaming. One exchange is
	// processed at a time.
	ErrBusy = errors.New("a reply is still in progress")

	// ErrReset is returned by Send when the conversation was reset while the
	// reply streamed. The reply is discarded along with the conversation.
	ErrReset = errors.New("conversation was reset during the reply")
)

// archiveTimeout bounds transcript writes that outlive the request context.
const archiveTimeout = 5 * time.Second

// =============================================================================
// SESSION
// =============================================================================

// Config holds the collaborators of a session.
type Config struct {
	// Completer produces replies (required)
	Completer Completer

	// Archive stores transcripts on reset and after each reply (optional)
	Archive Archiver

	// SystemPrompt is sent ahead of the history when non-empty.
	// It is not part of the conversation.
	SystemPrompt string

	// Logger receives session events (default: disabled)
	Logger *zerolog.Logger
}

// Session is one user's chat lifetime. It owns its Conversation exclusively.
//
// Send may be called from a worker goroutine while a render loop reads
// Conversation().Snapshot(); Reset may be called from either side.
type Session struct {
	conv      *model.Conversation
	completer Completer
	archive   Archiver
	log       zerolog.Logger

	// busy guards the one-exchange-at-a-time rule
	busy atomic.Bool

	mu           sync.Mutex
	id           string
	transcriptID string
	systemPrompt string
	model        string
	epoch        uint64
	cancelReply  context.CancelFunc
	exchanges    int
	dirty        bool
	startTime    time.Time
	lastActivity time.Time
}

// New creates a session with an empty conversation.
func New(cfg Config) *Session {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	id := "sess_" + uuid.NewString()
	now := time.Now()

	return &Session{
		conv:         model.NewConversation(),
		completer:    cfg.Completer,
		archive:      cfg.Archive,
		log:          log.With().Str("session", id).Logger(),
		id:           id,
		transcriptID: storage.NewTranscriptID(),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		startTime:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// TranscriptID returns the archive ID of the current conversation.
func (s *Session) TranscriptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptID
}

// Conversation returns the turn log. Callers render from Snapshot.
func (s *Session) Conversation() *model.Conversation {
	return s.conv
}

// SetSystemPrompt replaces the system prompt used by later requests.
func (s *Session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = strings.TrimSpace(prompt)
}

// SystemPrompt returns the system prompt sent with each request.
func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

// Busy reports whether a reply is in progress.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// =============================================================================
// SEND
// =============================================================================

// Reply describes a finished exchange.
type Reply struct {
	Content   string
	Model     string
	Fragments int
	Elapsed   time.Duration

	// Partial is set when the stream failed or was cancelled after the
	// assistant turn was opened; Content holds what arrived.
	Partial bool

	// Stats is set when the completer reports server statistics.
	Stats *ollama.StreamStats
}

// NormalizePrompt trims surrounding whitespace and converts the prompt to
// Unicode NFC, so visually identical prompts are sent identically.
func NormalizePrompt(prompt string) string {
	return norm.NFC.String(strings.TrimSpace(prompt))
}

// Send runs one exchange: the prompt plus the conversation so far is sent
// with cfg, fragments are forwarded to sink (which may be nil) as they
// arrive, and both turns are recorded.
//
// If the completer fails before streaming (for example with
// *ollama.ConnectionError) the conversation is left unchanged. If the stream
// fails or ctx is cancelled mid-reply, the partial assistant turn is kept
// and the error is returned with the Reply.
func (s *Session) Send(ctx context.Context, prompt string, cfg sampling.Config, sink Sink) (Reply, error) {
	prompt = NormalizePrompt(prompt)
	if prompt == "" {
		return Reply{}, ErrEmptyPrompt
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Reply{}, ErrBusy
	}
	defer s.busy.Store(false)

	start := time.Now()
	user := model.UserTurn(prompt)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.lastActivity = start
	s.model = cfg.Model()
	s.cancelReply = cancel
	epoch := s.epoch
	history := s.historyLocked(user)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelReply = nil
		s.mu.Unlock()
	}()

	log := s.log.With().Str("model", cfg.Model()).Int("turns", len(history)).Logger()
	log.Debug().Msg("sending prompt")

	stream, err := s.completer.Stream(ctx, history, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("completion request failed")
		return Reply{Model: cfg.Model()}, err
	}
	defer stream.Close()

	handle, err := s.openReply(epoch, user)
	if err != nil {
		return Reply{Model: cfg.Model()}, err
	}

	reply := Reply{Model: cfg.Model()}
	var streamErr error
	for frag, ferr := range stream.Fragments() {
		if ferr != nil {
			streamErr = ferr
			break
		}
		if err := handle.Extend(frag); err != nil {
			// Detached by Reset; breaking cancels the request.
			streamErr = err
			break
		}
		reply.Fragments++
		if sink != nil {
			sink.Fragment(frag)
		}
	}

	reply.Content = handle.Content()
	if err := handle.Finalize(); err != nil && streamErr == nil {
		streamErr = err
	}
	reply.Elapsed = time.Since(start)
	if sp, ok := stream.(statsProvider); ok {
		stats := sp.Stats()
		reply.Stats = &stats
	}

	s.mu.Lock()
	wasReset := s.epoch != epoch
	if !wasReset {
		s.exchanges++
		s.dirty = true
		s.lastActivity = time.Now()
	}
	s.mu.Unlock()

	if wasReset {
		log.Info().Int("fragments", reply.Fragments).Msg("reply dropped by reset")
		reply.Partial = true
		return reply, ErrReset
	}

	reply.Partial = streamErr != nil
	event := log.Info()
	if streamErr != nil {
		event = log.Warn().Err(streamErr)
	}
	event.Int("fragments", reply.Fragments).Dur("elapsed", reply.Elapsed).Bool("partial", reply.Partial).Msg("reply finished")

	s.autosave(ctx)
	return reply, streamErr
}

// Cancel stops the reply in progress, keeping what has arrived. It is a
// no-op when nothing is streaming.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelReply
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// openReply records the user turn and opens the assistant turn, unless the
// conversation was reset since the request was built.
func (s *Session) openReply(epoch uint64, user model.Turn) (*model.TurnHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return nil, ErrReset
	}
	if err := s.conv.Append(user); err != nil {
		return nil, err
	}
	return s.conv.BeginStreamingTurn(model.RoleAssistant)
}

// historyLocked builds the request history: system prompt, the conversation
// so far and the new user turn. Caller must hold s.mu.
func (s *Session) historyLocked(user model.Turn) []model.Turn {
	snapshot := s.conv.Snapshot()
	history := make([]model.Turn, 0, len(snapshot)+2)
	if s.systemPrompt != "" {
		history = append(history, model.NewTurn(model.RoleSystem, s.systemPrompt))
	}
	history = append(history, snapshot...)
	return append(history, user)
}

// =============================================================================
// RESET / RESTORE
// =============================================================================

// Reset archives the conversation (when an archive is configured and the
// conversation is not empty) and clears it. A reply streaming at the time
// is cancelled and Send returns ErrReset. The archive error, if any, is
// returned after the reset has happened.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	transcript := s.transcriptLocked()
	s.epoch++
	if s.cancelReply != nil {
		s.cancelReply()
	}
	s.conv.Reset()
	s.transcriptID = storage.NewTranscriptID()
	s.dirty = false
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.log.Info().Int("turns", len(transcript.Turns)).Msg("conversation reset")

	if s.archive == nil || len(transcript.Turns) == 0 {
		return nil
	}
	return s.save(ctx, transcript)
}

// Restore replaces the conversation with an archived transcript so it can
// be continued. Later saves update the same transcript.
func (s *Session) Restore(t *storage.Transcript) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.conv.Reset()
	for _, turn := range t.Turns {
		if turn.Role == model.RoleSystem {
			continue
		}
		if err := s.conv.Append(turn); err != nil {
			s.conv.Reset()
			return err
		}
	}
	s.transcriptID = t.ID
	s.model = t.Model
	s.dirty = false
	s.lastActivity = time.Now()
	return nil
}

// =============================================================================
// ARCHIVING
// =============================================================================

// Save archives the current conversation now.
func (s *Session) Save(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	s.mu.Lock()
	transcript := s.transcriptLocked()
	s.mu.Unlock()

	if len(transcript.Turns) == 0 {
		return nil
	}
	if err := s.save(ctx, transcript); err != nil {
		return err
	}

	s.mu.Lock()
	if s.transcriptID == transcript.ID {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// autosave archives after a reply. Failures are logged, not returned: the
// reply itself succeeded.
func (s *Session) autosave(ctx context.Context) {
	if s.archive == nil {
		return
	}
	if err := s.Save(ctx); err != nil {
		s.log.Warn().Err(err).Msg("autosave failed")
	}
}

func (s *Session) save(ctx context.Context, t storage.Transcript) error {
	// A cancelled reply still gets archived.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if err := s.archive.Save(ctx, t); err != nil {
		return err
	}
	s.log.Debug().Str("transcript", t.ID).Int("turns", len(t.Turns)).Msg("transcript archived")
	return nil
}

// transcriptLocked snapshots the conversation for archiving.
// Caller must hold s.mu.
func (s *Session) transcriptLocked() storage.Transcript {
	return storage.Transcript{
		ID:        s.transcriptID,
		SessionID: s.id,
		Model:     s.model,
		CreatedAt: s.conv.CreatedAt(),
		Turns:     s.conv.Snapshot(),
	}
}
