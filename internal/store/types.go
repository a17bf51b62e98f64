// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package store

import (
	"encoding/json"
	"time"
)

// SubmissionStatus is the processing state of an uploaded document.
type SubmissionStatus string

const (
	SubmissionStatusPending    SubmissionStatus = "pending"
	SubmissionStatusProcessing SubmissionStatus = "processing"
	SubmissionStatusCompleted  SubmissionStatus = "completed"
	SubmissionStatusFailed     SubmissionStatus = "failed"
)

// Submission is one uploaded document and its extracted data.
type Submission struct {
	ID              string           `json:"id"`
	OrgID           string           `json:"org_id"`
	DocumentType    string           `json:"document_type"`
	Status          SubmissionStatus `json:"status"`
	PipelineVersion string           `json:"pipeline_version"`
	FileKey         string           `json:"file_key"`
	FinalData       json.RawMessage  `json:"final_data,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Organization is a tenant. API access is granted by APIKey and limited to
// AllowedIPs (exact addresses or CIDR ranges).
type Organization struct {
	ID         string
	Name       string
	AllowedIPs []string
	CreatedAt  time.Time
}

// --- Conversation types ---

// MessageRole identifies the author of a stored conversation message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleModel MessageRole = "model"
)

// Valid reports whether r is a storable role.
func (r MessageRole) Valid() bool {
	return r == MessageRoleUser || r == MessageRoleModel
}

// Conversation is a persisted chat thread owned by one user in one org.
type Conversation struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages,omitempty"`
}

// Message is one turn of a conversation. Sequence starts at 0 and grows by
// one per message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Sequence       int            `json:"sequence"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ListOpts pages list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// DefaultListLimit applies when ListOpts.Limit is not positive.
const DefaultListLimit = 50

// Normalized returns opts with the default limit and a non-negative offset.
func (o ListOpts) Normalized() ListOpts {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
