// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package sqlite persists conversations in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

var _ store.ConversationStore = (*ConversationStore)(nil)

// ConversationStore implements store.ConversationStore backed by SQLite.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore opens (or creates) the database at dbPath and
// initialises the conversations and messages tables.
func NewConversationStore(dbPath string) (*ConversationStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, store.DatabaseFailure(err, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, store.DatabaseFailure(err, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, store.DatabaseFailure(err, "migrating sqlite db")
	}

	return &ConversationStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(org_id, user_id, updated_at);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '',
	sequence        INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
	UNIQUE (conversation_id, sequence)
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts conv and, when first is non-nil, its first
// message at sequence 0, in one transaction.
func (s *ConversationStore) CreateConversation(ctx context.Context, conv *store.Conversation, first *store.Message) error {
	if conv.ID == "" || conv.OrgID == "" || conv.UserID == "" {
		return store.InvalidInput("conversation id, org and user are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.DatabaseFailure(err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO conversations (id, org_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		conv.ID,
		conv.OrgID,
		conv.UserID,
		conv.Title,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	); err != nil {
		return store.DatabaseFailure(err, "creating conversation", dmerr.FieldConversationID(conv.ID))
	}

	if first != nil {
		first.ConversationID = conv.ID
		first.Sequence = 0
		if err := insertMessage(ctx, tx, first); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return store.DatabaseFailure(err, "committing conversation", dmerr.FieldConversationID(conv.ID))
	}
	return nil
}

const conversationColumns = `id, org_id, user_id, title, created_at, updated_at`

func (s *ConversationStore) GetConversation(ctx context.Context, id, orgID string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND org_id = ?`, id, orgID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, store.DatabaseFailure(err, "getting conversation", dmerr.FieldConversationID(id))
	}
	return conv, nil
}

func (s *ConversationStore) ListConversations(ctx context.Context, userID, orgID string, opts store.ListOpts) ([]*store.Conversation, error) {
	opts = opts.Normalized()

	const q = `SELECT ` + conversationColumns + ` FROM conversations
WHERE user_id = ? AND org_id = ? ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, userID, orgID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, store.DatabaseFailure(err, "listing conversations", dmerr.FieldUserID(userID))
	}
	defer rows.Close()

	convs := []*store.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, store.DatabaseFailure(err, "scanning conversation row")
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseFailure(err, "listing conversations")
	}
	return convs, nil
}

func (s *ConversationStore) RenameConversation(ctx context.Context, id, orgID, title string) (*store.Conversation, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ? AND org_id = ?`, title, id, orgID)
	if err != nil {
		return nil, store.DatabaseFailure(err, "renaming conversation", dmerr.FieldConversationID(id))
	}
	if err := requireAffected(result, id); err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id, orgID)
}

func (s *ConversationStore) DeleteConversation(ctx context.Context, id, orgID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return store.DatabaseFailure(err, "deleting conversation", dmerr.FieldConversationID(id))
	}
	return requireAffected(result, id)
}

// AppendMessage verifies the conversation belongs to orgID, stores msg at
// the next sequence number and bumps updated_at, in one transaction.
func (s *ConversationStore) AppendMessage(ctx context.Context, orgID string, msg *store.Message, at time.Time) error {
	if !msg.Role.Valid() {
		return dmerr.Wrap(store.ErrInvalidInput, dmerr.CodeStoreMessageAppendInvalid, "unsupported message role", dmerr.Field("role", string(msg.Role)))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.DatabaseFailure(err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ? AND org_id = ?`,
		formatTime(at), msg.ConversationID, orgID)
	if err != nil {
		return store.DatabaseFailure(err, "touching conversation", dmerr.FieldConversationID(msg.ConversationID))
	}
	if err := requireAffected(result, msg.ConversationID); err != nil {
		return err
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) + 1 FROM conversation_messages WHERE conversation_id = ?`,
		msg.ConversationID,
	).Scan(&next); err != nil {
		return store.DatabaseFailure(err, "computing next sequence", dmerr.FieldConversationID(msg.ConversationID))
	}
	msg.Sequence = next
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = at
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.DatabaseFailure(err, "committing message", dmerr.FieldConversationID(msg.ConversationID))
	}
	return nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string, opts store.ListOpts) ([]*store.Message, error) {
	opts = opts.Normalized()

	const q = `SELECT id, conversation_id, role, content, metadata, sequence, created_at
FROM conversation_messages WHERE conversation_id = ? ORDER BY sequence ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, conversationID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, store.DatabaseFailure(err, "listing messages", dmerr.FieldConversationID(conversationID))
	}
	defer rows.Close()

	msgs := []*store.Message{}
	for rows.Next() {
		var (
			msg                 store.Message
			metaJSON, createdAt string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&metaJSON,
			&msg.Sequence,
			&createdAt,
		); err != nil {
			return nil, store.DatabaseFailure(err, "scanning message row")
		}
		msg.CreatedAt = parseTime(createdAt)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
				return nil, store.DatabaseFailure(err, "decoding message metadata")
			}
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseFailure(err, "listing messages")
	}
	return msgs, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *store.Message) error {
	var metadata string
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return dmerr.Wrap(err, dmerr.CodeStoreMessageAppendInvalid, "encoding message metadata")
		}
		metadata = string(raw)
	}

	const q = `INSERT INTO conversation_messages (id, conversation_id, role, content, metadata, sequence, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		metadata,
		msg.Sequence,
		formatTime(msg.CreatedAt),
	); err != nil {
		return store.DatabaseFailure(err, "inserting message", dmerr.FieldConversationID(msg.ConversationID))
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*store.Conversation, error) {
	var (
		conv                 store.Conversation
		createdAt, updatedAt string
	)
	if err := row.Scan(&conv.ID, &conv.OrgID, &conv.UserID, &conv.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return &conv, nil
}

func requireAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return store.DatabaseFailure(err, "checking rows affected", dmerr.FieldConversationID(id))
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func notFound(id string) error {
	return store.NotFound(dmerr.CodeStoreConversationNotFound, "conversation not found or access denied", dmerr.FieldConversationID(id))
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
