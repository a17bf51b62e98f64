// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only query through the query guard",
		Long:  "Validate, tenant-scope and execute a SELECT statement exactly as the agent's queryDatabase tool would, printing the JSON result.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	cmd.Flags().String("org", "", "organization id the query is scoped to (required)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	orgID, _ := cmd.Flags().GetString("org")
	sql := strings.Join(args, " ")
	if strings.TrimSpace(sql) == "" {
		return dmerr.New(dmerr.CodeCLIInputInvalid, "query must not be empty")
	}

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

	res := app.Guard.Execute(cmd.Context(), sql, orgID)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "encoding result")
	}
	if !res.OK() {
		return dmerr.Wrap(res.Err(), dmerr.CodeCLIRequestFailure, "query rejected")
	}
	return nil
}
