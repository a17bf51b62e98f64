// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

const chatStreamPath = "/api/v1/chat/stream"

// maxChatBody bounds the chat request body.
const maxChatBody = 1 << 20

// ChatStreamRequest is the request body for the streaming chat endpoint.
type ChatStreamRequest struct {
	Message string `json:"message"`
	// ConversationID loads history from and persists the exchange to a
	// stored conversation.
	ConversationID string `json:"conversation_id,omitempty"`
	// History is used when no conversation is given.
	History []agent.Turn `json:"history,omitempty"`
	// PersistUserMessage defaults to true. Set it to false when Message is
	// already the last stored message (the one a conversation was created
	// with).
	PersistUserMessage *bool `json:"persist_user_message,omitempty"`
}

func (r ChatStreamRequest) persistUser() bool {
	return r.PersistUserMessage == nil || *r.PersistUserMessage
}

func (s *Server) registerChatStream() {
	s.router.Post(chatStreamPath, s.handleChatStream)

	// The handler needs the raw ResponseWriter to flush events, so only the
	// OpenAPI entry goes through huma.
	minLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        chatStreamPath,
		Summary:     "Ask the agent a question",
		Description: "Streams the answer as server-sent `chunk` events followed by `done` when Accept is text/event-stream; otherwise returns a JSON array of chunks.",
		Tags:        []string{"chat"},
		Security:    []map[string][]string{{"bearer": {}}},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"message"},
						Properties: map[string]*huma.Schema{
							"message":              {Type: "string", MinLength: &minLen, Description: "The question"},
							"conversation_id":      {Type: "string", Description: "Stored conversation to continue"},
							"persist_user_message": {Type: "boolean", Description: "Store the message in the conversation (default true)"},
							"history": {
								Type:        "array",
								Description: "Prior turns, used when no conversation is given",
								Items: &huma.Schema{
									Type: "object",
									Properties: map[string]*huma.Schema{
										"role": {Type: "string", Enum: []any{"user", "model"}},
										"text": {Type: "string"},
									},
								},
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Answer stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string"}},
					"application/json":  {Schema: &huma.Schema{Type: "array", Items: &huma.Schema{Type: "string"}}},
				},
			},
			"400": {Description: "Invalid request"},
			"401": {Description: "Invalid API key"},
			"403": {Description: "IP address not allowed"},
			"404": {Description: "Conversation not found"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, r, dmerr.New(dmerr.CodeServerAuthUnauthorized, "unauthenticated"))
		return
	}

	var req ChatStreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, r, dmerr.New(dmerr.CodeServerRequestInvalid, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, dmerr.New(dmerr.CodeServerRequestInvalid, "message is required"))
		return
	}

	history, err := s.chatHistory(r.Context(), org.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log := s.log.With().
		Str("request_id", logging.RequestID(r.Context())).
		Str("org_id", org.ID).
		Str("conversation_id", req.ConversationID).
		Logger()
	chat := agent.ChatRequest{Message: req.Message, History: history, OrgID: org.ID}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.writeSSE(w, r, log, req, chat)
		return
	}
	s.writeChunksJSON(w, r, log, req, chat)
}

// chatHistory loads stored turns when a conversation is named. A message
// that was already stored is not sent twice.
func (s *Server) chatHistory(ctx context.Context, orgID string, req ChatStreamRequest) ([]agent.Turn, error) {
	if req.ConversationID == "" {
		return req.History, nil
	}
	if s.deps.Conversations == nil {
		return nil, dmerr.New(dmerr.CodeServerRequestInvalid, "conversations are not enabled")
	}
	turns, err := s.deps.Conversations.History(ctx, req.ConversationID, orgID)
	if err != nil {
		return nil, err
	}
	if !req.persistUser() && len(turns) > 0 {
		last := turns[len(turns)-1]
		if last.Role == agent.RoleUser && last.Text == req.Message {
			turns = turns[:len(turns)-1]
		}
	}
	return turns, nil
}

func (s *Server) writeSSE(w http.ResponseWriter, r *http.Request, log zerolog.Logger, req ChatStreamRequest, chat agent.ChatRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	send := func(event string, data any) bool {
		raw, _ := json.Marshal(data)
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	var answer strings.Builder
	chunks := 0
	for chunk, err := range s.deps.Agent.Chat(r.Context(), chat) {
		if err != nil {
			log.Error().Err(err).Msg("chat failed")
			_, msg := publicError(err)
			send("error", ErrorBody{Error: msg, Code: string(dmerr.CodeOf(err)), RequestID: logging.RequestID(r.Context())})
			return
		}
		chunks++
		answer.WriteString(chunk)
		if !send("chunk", chunk) {
			log.Info().Int("chunks", chunks).Msg("client disconnected")
			return
		}
	}

	log.Info().Int("total_chunks", chunks).Int("total_characters", answer.Len()).Msg("stream done")
	s.persistExchange(r.Context(), log, chat.OrgID, req, answer.String())
	send("done", map[string]string{"conversation_id": req.ConversationID})
}

func (s *Server) writeChunksJSON(w http.ResponseWriter, r *http.Request, log zerolog.Logger, req ChatStreamRequest, chat agent.ChatRequest) {
	chunks := []string{}
	for chunk, err := range s.deps.Agent.Chat(r.Context(), chat) {
		if err != nil {
			log.Error().Err(err).Msg("chat failed")
			writeError(w, r, err)
			return
		}
		chunks = append(chunks, chunk)
	}

	s.persistExchange(r.Context(), log, chat.OrgID, req, strings.Join(chunks, ""))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chunks); err != nil {
		log.Error().Err(err).Msg("encoding chat response")
	}
}

// persistExchange stores the user message and the answer. Failures are
// logged; the caller already has the answer.
func (s *Server) persistExchange(ctx context.Context, log zerolog.Logger, orgID string, req ChatStreamRequest, answer string) {
	if req.ConversationID == "" || s.deps.Conversations == nil {
		return
	}
	// Persist even if the client has gone away.
	ctx = context.WithoutCancel(ctx)

	if req.persistUser() {
		if _, err := s.deps.Conversations.AddMessage(ctx, req.ConversationID, orgID, store.MessageRoleUser, req.Message, nil); err != nil {
			log.Error().Err(err).Msg("failed to persist user message")
			return
		}
	}
	if _, err := s.deps.Conversations.AddMessage(ctx, req.ConversationID, orgID, store.MessageRoleModel, answer, nil); err != nil {
		log.Error().Err(err).Msg("failed to persist agent response")
		return
	}
	log.Info().Msg("messages persisted to conversation")
}
