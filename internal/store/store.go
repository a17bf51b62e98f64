// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package store

import (
	"context"
	"time"

	"github.com/documesh-dev/documesh/internal/guard"
)

// SubmissionStore reads submissions by id regardless of tenant. Callers
// compare OrgID themselves.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (*Submission, error)
}

// OrganizationStore looks tenants up by id or API key.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*Organization, error)
}

// Database is the relational backend: tenant data plus guarded query
// sessions.
type Database interface {
	SubmissionStore
	OrganizationStore
	guard.Executor
	Ping(ctx context.Context) error
	Close() error
}

// ConversationStore persists conversations and their messages. Every
// conversation-scoped call is also scoped to orgID.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation, first *Message) error
	GetConversation(ctx context.Context, id, orgID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID, orgID string, opts ListOpts) ([]*Conversation, error)
	RenameConversation(ctx context.Context, id, orgID, title string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id, orgID string) error

	// AppendMessage assigns msg the next sequence number and bumps the
	// conversation's updated_at to at.
	AppendMessage(ctx context.Context, orgID string, msg *Message, at time.Time) error
	ListMessages(ctx context.Context, conversationID string, opts ListOpts) ([]*Message, error)

	Close() error
}
