// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives finished chat transcripts in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// Use errors.Is(err, ErrTranscriptNotFound) to check for this error.
var ErrTranscriptNotFound = &TranscriptError{Message: "transcript not found"}

// ErrAmbiguousID is returned when a short ID matches several transcripts.
var ErrAmbiguousID = &TranscriptError{Message: "transcript id is ambiguous"}

// TranscriptError represents a transcript lookup error.
// It can be compared using errors.Is.
type TranscriptError struct {
	Message string
}

// Error implements the error interface.
func (e *TranscriptError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing transcript errors.
func (e *TranscriptError) Is(target error) bool {
	t, ok := target.(*TranscriptError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures the archive.
type Config struct {
	// Path is the database file (default: ~/.localchat/history.db)
	Path string

	// MaxTranscripts is the maximum number of transcripts to keep (0 = unlimited)
	MaxTranscripts int
}

// DefaultPath returns ~/.localchat/history.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".localchat", "history.db")
}

// NewTranscriptID generates an ID for a new transcript.
func NewTranscriptID() string {
	return "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive stores transcripts in a SQLite database.
// It is safe for concurrent use.
type Archive struct {
	db     *sql.DB
	config Config
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Archive, error) {
	return OpenWithConfig(Config{Path: path})
}

// OpenWithConfig opens the archive described by cfg.
func OpenWithConfig(cfg Config) (*Archive, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Archive{db: db, config: cfg}, nil
}

// Path returns the database file.
func (a *Archive) Path() string {
	return a.config.Path
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save inserts or replaces a transcript. Saving the same ID again replaces
// its turns, so a growing conversation can be saved after every reply.
func (a *Archive) Save(ctx context.Context, t Transcript) error {
	if t.ID == "" {
		return errors.New("transcript id is required")
	}
	if t.Title == "" {
		t.Title = defaultTitle(t.Turns)
	}
	now := time.Now()
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, session_id, model, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			title = excluded.title,
			updated_at = excluded.updated_at
	`, t.ID, t.SessionID, t.Model, t.Title, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE transcript_id = ?", t.ID); err != nil {
		return fmt.Errorf("failed to replace turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns (transcript_id, seq, id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer stmt.Close()

	for i, turn := range t.Turns {
		if _, err := stmt.ExecContext(ctx, t.ID, i, turn.ID, string(turn.Role), turn.Content, turn.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to save turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}

	if a.config.MaxTranscripts > 0 {
		return a.enforceLimit(ctx)
	}
	return nil
}

// enforceLimit removes the oldest transcripts beyond MaxTranscripts.
func (a *Archive) enforceLimit(ctx context.Context) error {
	rows, err := a.db.QueryContext(ctx,
		"SELECT id FROM transcripts ORDER BY updated_at DESC LIMIT -1 OFFSET ?", a.config.MaxTranscripts)
	if err != nil {
		return fmt.Errorf("failed to find old transcripts: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		// A concurrent save may have pruned it already.
		if err := a.Delete(ctx, id); err != nil && !errors.Is(err, ErrTranscriptNotFound) {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a transcript by ID or by unique ID prefix (see ShortID).
func (a *Archive) Load(ctx context.Context, id string) (*Transcript, error) {
	fullID, err := a.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	var t Transcript
	var created, updated int64
	err = a.db.QueryRowContext(ctx, `
		SELECT id, session_id, model, title, created_at, updated_at
		FROM transcripts WHERE id = ?
	`, fullID).Scan(&t.ID, &t.SessionID, &t.Model, &t.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM turns WHERE transcript_id = ? ORDER BY seq
	`, fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	t.Turns = make([]model.Turn, 0)
	for rows.Next() {
		var turn model.Turn
		var role string
		var at int64
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &at); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = model.Role(role)
		turn.CreatedAt = time.UnixMilli(at)
		t.Turns = append(t.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

// resolveID expands a short ID to the full transcript ID.
func (a *Archive) resolveID(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrTranscriptNotFound
	}
	if !strings.HasPrefix(id, "tr_") {
		id = "tr_" + id
	}

	rows, err := a.db.QueryContext(ctx,
		"SELECT id FROM transcripts WHERE id = ? OR id LIKE ? ESCAPE '\\' LIMIT 2", id, escapeLike(id)+"%")
	if err != nil {
		return "", fmt.Errorf("failed to resolve transcript id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", err
		}
		if m == id {
			return m, nil
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", ErrTranscriptNotFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousID
	}
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

const listQuery = `
	SELECT t.id, t.session_id, t.model, t.title, t.created_at, t.updated_at,
		(SELECT COUNT(*) FROM turns WHERE transcript_id = t.id),
		COALESCE((SELECT content FROM turns
			WHERE transcript_id = t.id AND role = 'user'
			ORDER BY seq LIMIT 1), '')
	FROM transcripts t
`

// List returns transcript metadata, most recently updated first.
// A limit of 0 or less returns every transcript.
func (a *Archive) List(ctx context.Context, limit int) ([]TranscriptMeta, error) {
	if limit <= 0 {
		limit = -1
	}
	return a.queryMetas(ctx, listQuery+" ORDER BY t.updated_at DESC LIMIT ?", limit)
}

// Search returns transcripts whose title or turns contain query
// (case-insensitive for ASCII), most recently updated first.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]TranscriptMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return a.List(ctx, limit)
	}
	if limit <= 0 {
		limit = -1
	}
	pattern := "%" + escapeLike(query) + "%"
	return a.queryMetas(ctx, listQuery+`
		WHERE t.title LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM turns WHERE transcript_id = t.id AND content LIKE ? ESCAPE '\')
		ORDER BY t.updated_at DESC LIMIT ?
	`, pattern, pattern, limit)
}

func (a *Archive) queryMetas(ctx context.Context, query string, args ...any) ([]TranscriptMeta, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	metas := make([]TranscriptMeta, 0)
	for rows.Next() {
		var m TranscriptMeta
		var created, updated int64
		var preview string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Model, &m.Title, &created, &updated, &m.TurnCount, &preview); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		m.Preview = (&Transcript{Turns: []model.Turn{{Role: model.RoleUser, Content: preview}}}).Preview()
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a transcript and its turns.
func (a *Archive) Delete(ctx context.Context, id string) error {
	fullID, err := a.resolveID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE transcript_id = ?", fullID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM transcripts WHERE id = ?", fullID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of archived transcripts.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts").Scan(&n)
	return n, err
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
