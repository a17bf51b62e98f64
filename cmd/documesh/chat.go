// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/documesh-dev/documesh/internal/agent"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask the agent a question as an organization",
		Long:  "Send one message to the agent, or start an interactive session reading questions from stdin when no message is given.",
		RunE:  runChat,
	}

	cmd.Flags().String("org", "", "organization id the questions are scoped to (required)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	orgID, _ := cmd.Flags().GetString("org")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Close() //nolint:errcheck

	app, err := wireApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		_, err := ask(cmd, app.Agent, out, agent.ChatRequest{Message: strings.Join(args, " "), OrgID: orgID})
		return err
	}

	var history []agent.Turn
	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		if _, err := fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !in.Scan() {
			return in.Err()
		}
		msg := strings.TrimSpace(in.Text())
		if msg == "" {
			continue
		}
		if msg == "exit" || msg == "quit" {
			return nil
		}

		answer, err := ask(cmd, app.Agent, out, agent.ChatRequest{Message: msg, History: history, OrgID: orgID})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		history = append(history,
			agent.Turn{Role: agent.RoleUser, Text: msg},
			agent.Turn{Role: agent.RoleModel, Text: answer},
		)
	}
}

// ask streams one answer to out and returns it in full.
func ask(cmd *cobra.Command, l *agent.Loop, out io.Writer, req agent.ChatRequest) (string, error) {
	var answer strings.Builder
	for chunk, err := range l.Chat(cmd.Context(), req) {
		if err != nil {
			fmt.Fprintln(out)
			return "", dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "chat failed")
		}
		answer.WriteString(chunk)
		if _, err := io.WriteString(out, chunk); err != nil {
			return "", err
		}
	}
	_, err := fmt.Fprintln(out)
	return answer.String(), err
}
