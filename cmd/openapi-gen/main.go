// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Command openapi-gen writes the OpenAPI document of the documesh API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/server"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

const defaultOutPath = "api/openapi/spec.json"

func main() {
	outPath := defaultOutPath
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := write(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

func write(outPath string) error {
	spec, err := generateSpec()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeCLISetupFailure, "creating output dir for %s", outPath)
	}
	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeCLISetupFailure, "writing %s", outPath)
	}
	return nil
}

// generateSpec registers every route on a server backed by stubs and
// returns the document huma derives from the handler types.
func generateSpec() ([]byte, error) {
	nop := logging.Nop()
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.Deps{
		Orgs:          stubOrgs{},
		Agent:         stubAgent{},
		Conversations: stubConversations{},
		Logger:        &nop,
	})
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeCLISetupFailure, "creating server")
	}
	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// Stubs are never called during spec generation.

type stubOrgs struct{}

func (stubOrgs) GetOrganization(context.Context, string) (*store.Organization, error) {
	return nil, nil
}

func (stubOrgs) GetOrganizationByAPIKey(context.Context, string) (*store.Organization, error) {
	return nil, nil
}

type stubAgent struct{}

func (stubAgent) Chat(context.Context, agent.ChatRequest) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

type stubConversations struct{}

func (stubConversations) Create(context.Context, string, string, string) (*store.Conversation, error) {
	return nil, nil
}

func (stubConversations) Get(context.Context, string, string) (*store.Conversation, error) {
	return nil, nil
}

func (stubConversations) List(context.Context, string, string, int, int) ([]*store.Conversation, error) {
	return nil, nil
}

func (stubConversations) AddMessage(context.Context, string, string, store.MessageRole, string, map[string]any) (*store.Message, error) {
	return nil, nil
}

func (stubConversations) Rename(context.Context, string, string, string) (*store.Conversation, error) {
	return nil, nil
}

func (stubConversations) Delete(context.Context, string, string) error { return nil }

func (stubConversations) Messages(context.Context, string, string, int, int) ([]*store.Message, error) {
	return nil, nil
}

func (stubConversations) History(context.Context, string, string) ([]agent.Turn, error) {
	return nil, nil
}
