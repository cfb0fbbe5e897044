// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id            TEXT PRIMARY KEY,
    namespace     TEXT NOT NULL,
    workspace     TEXT NOT NULL,
    model         TEXT NOT NULL DEFAULT '',
    summary       TEXT NOT NULL DEFAULT '',
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    messages      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at);
CREATE INDEX IF NOT EXISTS idx_transcripts_workspace ON transcripts(namespace, workspace);
`

// DefaultMaxConversations bounds stored transcripts; the oldest are pruned.
const DefaultMaxConversations = 500

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when no transcript matches.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrAmbiguousID is returned when an id prefix matches several transcripts.
var ErrAmbiguousID = &ConversationError{Message: "conversation id prefix is ambiguous"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed transcript store. It is safe for concurrent use.
type Store struct {
	db *sql.DB

	// MaxConversations bounds the stored transcripts (0 = unlimited)
	MaxConversations int
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, MaxConversations: DefaultMaxConversations}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the transcript of conv.
func (s *Store) Save(ctx context.Context, conv *model.Conversation) error {
	stored := FromConversation(conv)
	return s.SaveStored(ctx, stored)
}

// SaveStored inserts or replaces a stored transcript.
func (s *Store) SaveStored(ctx context.Context, conv *StoredConversation) error {
	if conv.ID == "" {
		return errors.New("conversation has no id")
	}
	if conv.Summary == "" {
		conv.Summary = generateSummary(conv)
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, namespace, workspace, model, summary, message_count, created_at, updated_at, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			summary = excluded.summary,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at,
			messages = excluded.messages`,
		conv.ID, conv.Workspace.Namespace, conv.Workspace.WorkspaceName, conv.Model, conv.Summary,
		len(conv.Messages), conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	if s.MaxConversations > 0 {
		return s.enforceLimit(ctx)
	}
	return nil
}

// enforceLimit removes the oldest transcripts beyond MaxConversations.
func (s *Store) enforceLimit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transcripts WHERE id IN (
			SELECT id FROM transcripts ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.MaxConversations)
	if err != nil {
		return fmt.Errorf("failed to prune conversations: %w", err)
	}
	return nil
}

// Get returns the transcript whose id equals or uniquely starts with id.
func (s *Store) Get(ctx context.Context, id string) (*StoredConversation, error) {
	if id == "" {
		return nil, ErrConversationNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, workspace, model, summary, created_at, updated_at, messages
		FROM transcripts WHERE id = ? OR id LIKE ? ESCAPE '\'
		ORDER BY (id = ?) DESC LIMIT 2`,
		id, escapeLike(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	var found []*StoredConversation
	for rows.Next() {
		var (
			conv             StoredConversation
			created, updated int64
			messages         string
		)
		if err := rows.Scan(&conv.ID, &conv.Workspace.Namespace, &conv.Workspace.WorkspaceName,
			&conv.Model, &conv.Summary, &created, &updated, &messages); err != nil {
			return nil, err
		}
		conv.CreatedAt = time.Unix(0, created)
		conv.UpdatedAt = time.Unix(0, updated)
		if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
		found = append(found, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, ErrConversationNotFound
	case found[0].ID == id, len(found) == 1:
		return found[0], nil
	default:
		return nil, ErrAmbiguousID
	}
}

// List returns transcript metadata, most recently updated first.
// A limit of 0 or less returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]ConversationMeta, error) {
	return s.query(ctx, "", limit)
}

// Search returns transcripts whose summary, workspace or messages contain
// query, case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]ConversationMeta, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx, limit)
	}
	return s.query(ctx, query, limit)
}

func (s *Store) query(ctx context.Context, search string, limit int) ([]ConversationMeta, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT id, namespace, workspace, model, summary, message_count, created_at, updated_at
		FROM transcripts`
	args := []interface{}{}
	if search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		q += ` WHERE lower(summary) LIKE ? ESCAPE '\' OR lower(workspace) LIKE ? ESCAPE '\' OR lower(messages) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern, pattern)
	}
	q += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	metas := []ConversationMeta{}
	for rows.Next() {
		var (
			meta             ConversationMeta
			created, updated int64
		)
		if err := rows.Scan(&meta.ID, &meta.Workspace.Namespace, &meta.Workspace.WorkspaceName,
			&meta.Model, &meta.Summary, &meta.MessageCount, &created, &updated); err != nil {
			return nil, err
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Delete removes a transcript by exact id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// generateSummary creates a summary from the first user message.
func generateSummary(conv *StoredConversation) string {
	for _, msg := range conv.Messages {
		if msg.Role == string(model.RoleUser) && msg.Content != "" {
			return util.TruncateWidth(util.SingleLine(msg.Content), 50)
		}
	}
	return "New conversation"
}
