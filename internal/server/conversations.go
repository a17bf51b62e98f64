// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/documesh-dev/documesh/internal/store"
)

var conversationErrors = []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}

type createConversationInput struct {
	Body struct {
		UserID  string `json:"user_id" minLength:"1" doc:"Owner of the conversation"`
		Message string `json:"message" minLength:"1" doc:"First user message; also sets the title"`
	}
}

type conversationOutput struct {
	Body *store.Conversation
}

type listConversationsInput struct {
	UserID string `query:"user_id" required:"true" doc:"Owner of the conversations"`
	Limit  int    `query:"limit" minimum:"0" maximum:"200" default:"50"`
	Offset int    `query:"offset" minimum:"0" default:"0"`
}

type listConversationsOutput struct {
	Body struct {
		Conversations []*store.Conversation `json:"conversations"`
	}
}

type conversationIDInput struct {
	ID string `path:"id"`
}

type renameConversationInput struct {
	ID   string `path:"id"`
	Body struct {
		Title string `json:"title" doc:"New title, at most 200 characters"`
	}
}

type listMessagesInput struct {
	ID     string `path:"id"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500" default:"100"`
	Offset int    `query:"offset" minimum:"0" default:"0"`
}

type listMessagesOutput struct {
	Body struct {
		Messages []*store.Message `json:"messages"`
	}
}

func (s *Server) registerConversations() {
	security := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-conversation",
		Method:        http.MethodPost,
		Path:          "/api/v1/conversations",
		Summary:       "Start a conversation",
		Tags:          []string{"conversations"},
		DefaultStatus: http.StatusCreated,
		Security:      security,
		Errors:        conversationErrors,
	}, s.handleCreateConversation)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/api/v1/conversations",
		Summary:     "List a user's conversations, most recent first",
		Tags:        []string{"conversations"},
		Security:    security,
		Errors:      conversationErrors,
	}, s.handleListConversations)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/api/v1/conversations/{id}",
		Summary:     "Get a conversation with its messages",
		Tags:        []string{"conversations"},
		Security:    security,
		Errors:      conversationErrors,
	}, s.handleGetConversation)

	huma.Register(s.api, huma.Operation{
		OperationID: "rename-conversation",
		Method:      http.MethodPatch,
		Path:        "/api/v1/conversations/{id}",
		Summary:     "Rename a conversation",
		Tags:        []string{"conversations"},
		Security:    security,
		Errors:      conversationErrors,
	}, s.handleRenameConversation)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-conversation",
		Method:        http.MethodDelete,
		Path:          "/api/v1/conversations/{id}",
		Summary:       "Delete a conversation and its messages",
		Tags:          []string{"conversations"},
		DefaultStatus: http.StatusNoContent,
		Security:      security,
		Errors:        conversationErrors,
	}, s.handleDeleteConversation)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-conversation-messages",
		Method:      http.MethodGet,
		Path:        "/api/v1/conversations/{id}/messages",
		Summary:     "Page through a conversation's messages",
		Tags:        []string{"conversations"},
		Security:    security,
		Errors:      conversationErrors,
	}, s.handleListMessages)
}

// requireOrg returns the authenticated organization id. The auth
// middleware guarantees it on /api/ routes.
func requireOrg(ctx context.Context) (string, error) {
	org, ok := OrgFromContext(ctx)
	if !ok {
		return "", huma.Error401Unauthorized("unauthenticated")
	}
	return org.ID, nil
}

func (s *Server) handleCreateConversation(ctx context.Context, in *createConversationInput) (*conversationOutput, error) {
	orgID, err := requireOrg(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.deps.Conversations.Create(ctx, orgID, in.Body.UserID, in.Body.Message)
	if err != nil {
		return nil, humaError(err)
	}
	return &conversationOutput{Body: conv}, nil
}

func (s *Server) handleListConversations(ctx context.Context, in *listConversationsInput) (*listConversationsOutput, error) {
	orgID, err := requireOrg(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.deps.Conversations.List(ctx, in.UserID, orgID, in.Limit, in.Offset)
	if err != nil {
		return nil, humaError(err)
	}
	out := &listConversationsOutput{}
	out.Body.Conversations = convs
	if out.Body.Conversations == nil {
		out.Body.Conversations = []*store.Conversation{}
	}
	return out, nil
}

func (s *Server) handleGetConversation(ctx context.Context, in *conversationIDInput) (*conversationOutput, error) {
	orgID, err := requireOrg(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.deps.Conversations.Get(ctx, in.ID, orgID)
	if err != nil {
		return nil, humaError(err)
	}
	return &conversationOutput{Body: conv}, nil
}

func (s *Server) handleRenameConversation(ctx context.Context, in *renameConversationInput) (*conversationOutput, error) {
	orgID, err := requireOrg(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.deps.Conversations.Rename(ctx, in.ID, orgID, in.Body.Title)
	if err != nil {
		return nil, humaError(err)
	}
	return &conversationOutput{Body: conv}, nil
}

func (s *Server) handleDeleteConversation(ctx context.Context, in *conversationIDInput) (*struct{}, error) {
	orgID, err := requireOrg(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Conversations.Delete(ctx, in.ID, orgID); err != nil {
		return nil, humaError(err)
	}
	return nil, nil
}

func (s *Server) handleListMessages(ctx context.Context, in *listMessagesInput) (*listMessagesOutput, error) {
	orgID, err := requireOrg(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.deps.Conversations.Messages(ctx, in.ID, orgID, in.Limit, in.Offset)
	if err != nil {
		return nil, humaError(err)
	}
	out := &listMessagesOutput{}
	out.Body.Messages = msgs
	if out.Body.Messages == nil {
		out.Body.Messages = []*store.Message{}
	}
	return out, nil
}
