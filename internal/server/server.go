// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package server exposes the chat agent and conversation management over
// HTTP for organizations authenticated by API key.
package server

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr      string
	CORSOrigins     []string
	TrustProxy      bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Version         string
}

// ChatAgent answers one chat turn as a stream of text chunks.
type ChatAgent interface {
	Chat(ctx context.Context, req agent.ChatRequest) iter.Seq2[string, error]
}

// Conversations is the conversation lifecycle used by the HTTP surface.
type Conversations interface {
	Create(ctx context.Context, orgID, userID, initialMessage string) (*store.Conversation, error)
	Get(ctx context.Context, id, orgID string) (*store.Conversation, error)
	List(ctx context.Context, userID, orgID string, limit, offset int) ([]*store.Conversation, error)
	AddMessage(ctx context.Context, id, orgID string, role store.MessageRole, content string, metadata map[string]any) (*store.Message, error)
	Rename(ctx context.Context, id, orgID, title string) (*store.Conversation, error)
	Delete(ctx context.Context, id, orgID string) error
	Messages(ctx context.Context, id, orgID string, limit, offset int) ([]*store.Message, error)
	History(ctx context.Context, id, orgID string) ([]agent.Turn, error)
}

// HealthFunc reports the current health of each dependency.
type HealthFunc func(ctx context.Context) []health.Component

// Deps are the services the server routes to.
type Deps struct {
	Orgs          store.OrganizationStore
	Agent         ChatAgent
	Conversations Conversations
	Health        HealthFunc
	Logger        *zerolog.Logger
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router  chi.Router
	api     huma.API
	cfg     Config
	deps    Deps
	log     zerolog.Logger
	nowFunc func() time.Time
}

// New creates a Server with its middleware stack and every route
// registered.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, dmerr.New(dmerr.CodeServerStartFailure, "listen address is required")
	}
	if deps.Orgs == nil || deps.Agent == nil {
		return nil, dmerr.New(dmerr.CodeServerStartFailure, "organization store and agent are required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     logging.For("http"),
		nowFunc: time.Now,
	}
	if deps.Logger != nil {
		s.log = *deps.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(s.accessLog)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(s.authMiddleware)

	humaConfig := huma.DefaultConfig("Documesh API", cfg.Version)
	humaConfig.Info.Description = "Tenant-scoped document analytics agent"
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", Description: "Organization API key"},
	}
	s.api = humachi.New(r, humaConfig)
	s.router = r

	s.registerHealth()
	s.registerChatStream()
	if deps.Conversations != nil {
		s.registerConversations()
	}

	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return dmerr.Wrapf(err, dmerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return dmerr.Wrap(err, dmerr.CodeServerStartFailure, "serving http")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return dmerr.Wrap(err, dmerr.CodeServerShutdownFailure, "shutting down")
	}
	s.log.Info().Msg("http server stopped")

	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
