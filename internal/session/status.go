// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one chat session: it owns the conversation and
// drives each exchange with the model.
package session

import (
	"strconv"
	"time"
)

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the current session status.
type Status struct {
	SessionID    string
	TranscriptID string
	Model        string
	StartTime    time.Time
	Duration     time.Duration
	IdleTime     time.Duration
	Turns        int
	Exchanges    int
	Streaming    bool
	IsDirty      bool
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	return Status{
		SessionID:    s.id,
		TranscriptID: s.transcriptID,
		Model:        s.model,
		StartTime:    s.startTime,
		Duration:     now.Sub(s.startTime),
		IdleTime:     now.Sub(s.lastActivity),
		Turns:        s.conv.Len(),
		Exchanges:    s.exchanges,
		Streaming:    s.conv.Streaming(),
		IsDirty:      s.dirty,
	}
}

// StartTime returns when the session started.
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// RecordActivity updates the last activity timestamp.
// This should be called on user input or other activity.
func (s *Session) RecordActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IsDirty returns whether the conversation changed since it was last archived.
func (s *Session) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return strconv.Itoa(mins) + "m"
		}
		return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
}
