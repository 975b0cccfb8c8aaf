// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation log and the turns it holds.
package model

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidState reports misuse of the streaming protocol: a second open
	// streaming turn, Extend after Finalize, double Finalize, or use of a handle
	// detached by Reset.
	ErrInvalidState = errors.New("invalid conversation state")

	// ErrInvalidRole is returned when a turn carries an unknown role.
	ErrInvalidRole = errors.New("invalid turn role")
)

// StateError describes which operation violated the streaming protocol.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return e.Op + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidState.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// IsInvalidState reports whether err is a streaming protocol violation.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the append-only turn log of a single session.
//
// Readers (Snapshot, Len) may run concurrently with the single writer, which
// lets a render loop observe partial content while a reply streams in.
type Conversation struct {
	mu        sync.RWMutex
	id        string
	createdAt time.Time
	updatedAt time.Time
	turns     []Turn

	// open is the streaming turn not yet finalized, nil when none.
	open *TurnHandle
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		id:        "conv_" + uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		turns:     make([]Turn, 0),
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// CreatedAt returns when the conversation (or its last reset) started.
func (c *Conversation) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// UpdatedAt returns the time of the last mutation.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// =============================================================================
// TURN MANAGEMENT
// =============================================================================

// Append adds a complete turn at the end of the log.
// Role alternation is not enforced. Appending while a streaming turn is open
// fails with ErrInvalidState.
func (c *Conversation) Append(t Turn) error {
	if !t.Role.Valid() {
		return ErrInvalidRole
	}
	if t.ID == "" {
		t = NewTurn(t.Role, t.Content)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil {
		return &StateError{Op: "append", Reason: "a streaming turn is still open"}
	}
	c.turns = append(c.turns, t)
	c.updatedAt = time.Now()
	return nil
}

// Snapshot returns a copy of every turn appended so far, including the
// partial content of an open streaming turn. Later appends are not visible
// through the returned slice.
func (c *Conversation) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	if c.open != nil {
		out[c.open.index].Content = c.open.buf.String()
	}
	return out
}

// Len returns the number of turns, counting an open streaming turn.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// IsEmpty returns true if there are no turns.
func (c *Conversation) IsEmpty() bool {
	return c.Len() == 0
}

// Streaming reports whether a streaming turn is open.
func (c *Conversation) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open != nil
}

// Reset atomically clears every turn. An open streaming handle is detached:
// its later Extend and Finalize calls fail with ErrInvalidState.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = make([]Turn, 0)
	c.open = nil
	c.createdAt = time.Now()
	c.updatedAt = c.createdAt
}

// BeginStreamingTurn opens a new turn with empty content at the end of the log.
// Only one streaming turn may be open per conversation.
func (c *Conversation) BeginStreamingTurn(role Role) (*TurnHandle, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil {
		return nil, &StateError{Op: "begin streaming turn", Reason: "previous streaming turn not finalized"}
	}

	h := &TurnHandle{conv: c, index: len(c.turns)}
	c.turns = append(c.turns, NewTurn(role, ""))
	c.open = h
	c.updatedAt = time.Now()
	return h, nil
}

// =============================================================================
// TURN HANDLE
// =============================================================================

// TurnHandle is the write side of a streaming turn. It belongs to the caller
// that opened it.
type TurnHandle struct {
	conv      *Conversation
	index     int
	finalized bool

	// PERFORMANCE: strings.Builder avoids quadratic allocations while streaming
	buf strings.Builder
}

// Extend appends a fragment to the open turn. The partial content is visible
// to subsequent Snapshot calls.
func (h *TurnHandle) Extend(fragment string) error {
	c := h.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := h.checkLocked("extend"); err != nil {
		return err
	}
	h.buf.WriteString(fragment)
	c.updatedAt = time.Now()
	return nil
}

// Finalize freezes the turn content. It must be called exactly once.
func (h *TurnHandle) Finalize() error {
	c := h.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := h.checkLocked("finalize"); err != nil {
		return err
	}
	c.turns[h.index].Content = h.buf.String()
	h.finalized = true
	c.open = nil
	c.updatedAt = time.Now()
	return nil
}

// Content returns the content accumulated so far.
func (h *TurnHandle) Content() string {
	c := h.conv
	c.mu.RLock()
	defer c.mu.RUnlock()
	return h.buf.String()
}

// Finalized reports whether Finalize has completed.
func (h *TurnHandle) Finalized() bool {
	c := h.conv
	c.mu.RLock()
	defer c.mu.RUnlock()
	return h.finalized
}

// checkLocked verifies the handle is still the open turn (caller must hold lock).
func (h *TurnHandle) checkLocked(op string) error {
	if h.finalized {
		return &StateError{Op: op, Reason: "turn already finalized"}
	}
	if h.conv.open != h {
		return &StateError{Op: op, Reason: "turn was discarded by reset"}
	}
	return nil
}

// =============================================================================
// TOKEN TRACKING
// =============================================================================

// EstimateTokens estimates the total token count of the conversation,
// with ~4 tokens of overhead per turn.
func (c *Conversation) EstimateTokens() int {
	total := 0
	for _, t := range c.Snapshot() {
		total += t.EstimateTokens() + 4
	}
	return total
}

// Title returns a title derived from the first user turn.
func (c *Conversation) Title() string {
	for _, t := range c.Snapshot() {
		if t.Role == RoleUser {
			return t.Preview(50)
		}
	}
	return "New Conversation"
}
