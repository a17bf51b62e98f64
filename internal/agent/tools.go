// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Tool names advertised to the model.
const (
	ToolGetResumeDetails = "getResumeDetails"
	ToolQueryDatabase    = "queryDatabase"
)

// MsgAccessDenied is returned when a record belongs to another organization.
const MsgAccessDenied = "Access denied. Document does not belong to your organization."

const msgToolFailed = "Tool execution failed. Please try again."

// Invocation identifies the chat a tool call runs on behalf of. The tenant
// comes from here, never from model-supplied arguments.
type Invocation struct {
	OrgID     string
	RequestID string
}

// Tool is one capability the model may call.
type Tool interface {
	Definition() provider.ToolDefinition
	// Execute runs the tool with schema-validated arguments. The returned
	// value is JSON-encoded as the tool result.
	Execute(ctx context.Context, inv Invocation, args json.RawMessage) (any, error)
}

// invalidArgsMessager is implemented by tools that answer arguments
// failing their schema with a fixed message instead of the schema errors.
type invalidArgsMessager interface {
	InvalidArgsMessage() string
}

// Toolset dispatches tool calls to a fixed set of tools, validating
// arguments against each tool's input schema first.
type Toolset struct {
	tools   []Tool
	byName  map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewToolset compiles the input schema of every tool.
func NewToolset(tools ...Tool) (*Toolset, error) {
	s := &Toolset{
		byName:  make(map[string]Tool, len(tools)),
		schemas: make(map[string]*gojsonschema.Schema, len(tools)),
	}
	for _, t := range tools {
		def := t.Definition()
		if _, dup := s.byName[def.Name]; dup {
			return nil, dmerr.Errorf(dmerr.CodeAgentLoopInvalidInput, "duplicate tool %q", def.Name)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeAgentLoopInvalidInput, "compiling tool schema", dmerr.FieldTool(def.Name))
		}
		s.tools = append(s.tools, t)
		s.byName[def.Name] = t
		s.schemas[def.Name] = schema
	}
	return s, nil
}

// Definitions returns the tool definitions in registration order.
func (s *Toolset) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Dispatch executes call and returns the content of its tool result.
// Failures are folded into an {"error": "..."} result so the model can
// react to them; the returned error is for logging only.
func (s *Toolset) Dispatch(ctx context.Context, inv Invocation, call provider.ToolCall) (string, error) {
	t, ok := s.byName[call.Name]
	if !ok {
		err := dmerr.Errorf(dmerr.CodeAgentToolNotFound, "Unknown tool: %s", call.Name)
		return errorResult(err.Error()), err
	}

	args := json.RawMessage(strings.TrimSpace(call.Arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := s.validate(call.Name, args); err != nil {
		if m, ok := t.(invalidArgsMessager); ok {
			return errorResult(m.InvalidArgsMessage()), err
		}
		return errorResult(err.Error()), err
	}

	out, err := t.Execute(ctx, inv, args)
	if err != nil {
		return errorResult(publicMessage(err)), err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		err = dmerr.Wrap(err, dmerr.CodeAgentToolExecuteFailed, "encoding tool result", dmerr.FieldTool(call.Name))
		return errorResult(msgToolFailed), err
	}
	return string(raw), nil
}

func (s *Toolset) validate(name string, args json.RawMessage) error {
	res, err := s.schemas[name].Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return dmerr.Errorf(dmerr.CodeAgentToolArgsInvalid, "Invalid arguments for %s: arguments must be a JSON object", name)
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		return dmerr.Errorf(dmerr.CodeAgentToolArgsInvalid, "Invalid arguments for %s: %s", name, strings.Join(problems, "; "))
	}
	return nil
}

// publicMessage keeps messages we wrote ourselves and hides anything that
// may carry driver or upstream text.
func publicMessage(err error) string {
	switch dmerr.CodeOf(err) {
	case dmerr.CodeAgentToolAccessDenied, dmerr.CodeAgentToolArgsInvalid:
		return err.Error()
	default:
		return msgToolFailed
	}
}

func errorResult(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}

// DefaultTools returns the record lookup and guarded query tools.
func DefaultTools(g *guard.Guard, subs store.SubmissionStore) []Tool {
	return []Tool{
		&ResumeDetailsTool{subs: subs, log: logging.For("tool:get-resume-details")},
		&QueryDatabaseTool{guard: g, log: logging.For("tool:query-database")},
	}
}

// ResumeDetailsTool fetches one submission, checking it belongs to the
// calling organization.
type ResumeDetailsTool struct {
	subs store.SubmissionStore
	log  zerolog.Logger
}

func NewResumeDetailsTool(subs store.SubmissionStore, log zerolog.Logger) *ResumeDetailsTool {
	return &ResumeDetailsTool{subs: subs, log: log}
}

func (t *ResumeDetailsTool) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        ToolGetResumeDetails,
		Description: "Get detailed information about a specific resume/submission using its ID.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "The ID of the submission/resume.",
				},
			},
			"required": []string{"id"},
		},
	}
}

// Execute returns the submission, nil when it does not exist, or an
// access-denied error when it belongs to another organization.
func (t *ResumeDetailsTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (any, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeAgentToolArgsInvalid, "decoding arguments", dmerr.FieldTool(ToolGetResumeDetails))
	}

	log := t.log.With().Str("request_id", inv.RequestID).Str("org_id", inv.OrgID).Str("id", in.ID).Logger()
	log.Info().Msg("tool call: getResumeDetails")

	sub, err := t.subs.GetSubmission(ctx, in.ID)
	switch {
	case dmerr.IsNotFound(err):
		log.Info().Bool("found", false).Msg("tool result: getResumeDetails")
		return nil, nil
	case err != nil:
		return nil, dmerr.Wrap(err, dmerr.CodeAgentToolExecuteFailed, "loading submission", dmerr.FieldTool(ToolGetResumeDetails))
	}

	if sub.OrgID != inv.OrgID {
		log.Warn().Msg("tool access denied: getResumeDetails")
		return nil, dmerr.New(dmerr.CodeAgentToolAccessDenied, MsgAccessDenied, dmerr.FieldOrgID(inv.OrgID))
	}

	log.Info().Bool("found", true).Msg("tool result: getResumeDetails")
	return sub, nil
}

// QueryDatabaseTool runs model-written SQL through the query guard, scoped
// to the calling organization.
type QueryDatabaseTool struct {
	guard *guard.Guard
	log   zerolog.Logger
}

func NewQueryDatabaseTool(g *guard.Guard, log zerolog.Logger) *QueryDatabaseTool {
	return &QueryDatabaseTool{guard: g, log: log}
}

func (t *QueryDatabaseTool) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name: ToolQueryDatabase,
		Description: "Execute a full read-only SQL SELECT query against the submissions table. " +
			"Use this for analytics, aggregations, filtering, and complex queries on resumes and invoices. " +
			"All queries are automatically scoped to the user's organization. " +
			"Examples: 'SELECT COUNT(*) FROM submissions', " +
			"'SELECT final_data->>'fullName' FROM submissions WHERE document_type = 'RESUME'', " +
			"'SELECT skill, COUNT(*) FROM submissions, jsonb_array_elements_text(final_data->'technicalSkills') as skill GROUP BY skill ORDER BY count DESC'.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type": "string",
					"description": "The complete SQL SELECT query to execute. Must reference the submissions table. " +
						"Security: Only SELECT queries allowed, automatically scoped to user's organization, 5-second timeout, 100-row limit.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// InvalidArgsMessage matches the guard's answer to a missing query.
func (t *QueryDatabaseTool) InvalidArgsMessage() string { return guard.MsgInvalidQuery }

// Execute always succeeds: guard failures are part of the Result.
func (t *QueryDatabaseTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeAgentToolArgsInvalid, "decoding arguments", dmerr.FieldTool(ToolQueryDatabase))
	}

	t.log.Info().
		Str("request_id", inv.RequestID).
		Str("org_id", inv.OrgID).
		Int("query_length", len(in.Query)).
		Msg("tool call: queryDatabase")

	res := t.guard.Execute(ctx, in.Query, inv.OrgID)

	t.log.Info().
		Str("request_id", inv.RequestID).
		Bool("ok", res.OK()).
		Int("count", res.Count).
		Str("kind", string(res.Kind)).
		Msg("tool result: queryDatabase")
	return res, nil
}
