// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package conversation manages persisted chat threads per organization
// and user.
package conversation

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

const (
	// MaxTitleLength bounds titles set by Rename.
	MaxTitleLength = 200

	// DefaultMessagePageSize applies to Messages when limit is not positive.
	DefaultMessagePageSize = 100

	autoTitleLength = 50
	historyPageSize = 500
)

// Service implements conversation lifecycle on top of a ConversationStore.
type Service struct {
	store   store.ConversationStore
	log     zerolog.Logger
	nowFunc func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFunc = now } }

// WithIDs overrides id generation (for testing).
func WithIDs(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func New(st store.ConversationStore, opts ...Option) *Service {
	s := &Service{
		store:   st,
		log:     logging.For("agent-conversation-service"),
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a conversation titled after initialMessage, which is stored
// as the first user message.
func (s *Service) Create(ctx context.Context, orgID, userID, initialMessage string) (*store.Conversation, error) {
	if orgID == "" || userID == "" {
		return nil, dmerr.New(dmerr.CodeConversationInvalidInput, "organization and user are required")
	}
	if strings.TrimSpace(initialMessage) == "" {
		return nil, dmerr.New(dmerr.CodeConversationInvalidInput, "initial message cannot be empty", dmerr.FieldOrgID(orgID))
	}

	now := s.nowFunc().UTC()
	conv := &store.Conversation{
		ID:        s.newID(),
		OrgID:     orgID,
		UserID:    userID,
		Title:     AutoTitle(initialMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
	first := &store.Message{
		ID:        s.newID(),
		Role:      store.MessageRoleUser,
		Content:   initialMessage,
		CreatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv, first); err != nil {
		return nil, err
	}
	conv.Messages = []*store.Message{first}

	s.log.Info().
		Str("org_id", orgID).
		Str("user_id", userID).
		Str("conversation_id", conv.ID).
		Msg("conversation created")
	return conv, nil
}

// Get returns the conversation with all of its messages.
func (s *Service) Get(ctx context.Context, id, orgID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.allMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// List returns the user's conversations, most recently updated first.
func (s *Service) List(ctx context.Context, userID, orgID string, limit, offset int) ([]*store.Conversation, error) {
	s.log.Debug().
		Str("org_id", orgID).
		Str("user_id", userID).
		Int("limit", limit).
		Int("offset", offset).
		Msg("listing conversations")
	return s.store.ListConversations(ctx, userID, orgID, store.ListOpts{Limit: limit, Offset: offset})
}

// AddMessage appends a message at the next sequence number.
func (s *Service) AddMessage(ctx context.Context, id, orgID string, role store.MessageRole, content string, metadata map[string]any) (*store.Message, error) {
	if !role.Valid() {
		return nil, dmerr.New(dmerr.CodeConversationInvalidInput, "role must be user or model", dmerr.Field("role", string(role)))
	}

	now := s.nowFunc().UTC()
	msg := &store.Message{
		ID:             s.newID(),
		ConversationID: id,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	if err := s.store.AppendMessage(ctx, orgID, msg, now); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("conversation_id", id).
		Str("role", string(role)).
		Int("sequence", msg.Sequence).
		Msg("message added to conversation")
	return msg, nil
}

// Rename sets a trimmed, non-empty title of at most MaxTitleLength
// characters.
func (s *Service) Rename(ctx context.Context, id, orgID, title string) (*store.Conversation, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return nil, dmerr.New(dmerr.CodeConversationInvalidInput, "Title cannot be empty", dmerr.FieldConversationID(id))
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, dmerr.New(dmerr.CodeConversationInvalidInput, "Title cannot exceed 200 characters", dmerr.FieldConversationID(id))
	}

	conv, err := s.store.RenameConversation(ctx, id, orgID, trimmed)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("conversation_id", id).Str("title", trimmed).Msg("conversation renamed")
	return conv, nil
}

// Delete removes the conversation and its messages.
func (s *Service) Delete(ctx context.Context, id, orgID string) error {
	if err := s.store.DeleteConversation(ctx, id, orgID); err != nil {
		return err
	}
	s.log.Info().Str("conversation_id", id).Msg("conversation deleted")
	return nil
}

// Messages returns one page of the conversation's messages in sequence
// order after checking it belongs to orgID.
func (s *Service) Messages(ctx context.Context, id, orgID string, limit, offset int) ([]*store.Message, error) {
	if _, err := s.store.GetConversation(ctx, id, orgID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	return s.store.ListMessages(ctx, id, store.ListOpts{Limit: limit, Offset: offset})
}

// History returns the conversation as agent turns, oldest first.
func (s *Service) History(ctx context.Context, id, orgID string) ([]agent.Turn, error) {
	conv, err := s.Get(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	turns := make([]agent.Turn, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		turns = append(turns, agent.Turn{Role: agent.Role(m.Role), Text: m.Content})
	}
	return turns, nil
}

func (s *Service) allMessages(ctx context.Context, id string) ([]*store.Message, error) {
	var all []*store.Message
	for offset := 0; ; offset += historyPageSize {
		page, err := s.store.ListMessages(ctx, id, store.ListOpts{Limit: historyPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < historyPageSize {
			return all, nil
		}
	}
}

// AutoTitle derives a conversation title from its first message: the
// message itself up to 50 characters, otherwise its first 47 and "...".
func AutoTitle(message string) string {
	if utf8.RuneCountInString(message) <= autoTitleLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:autoTitleLength-3]) + "..."
}
