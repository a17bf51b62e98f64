// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/documesh-dev/documesh/internal/secrets"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// secretStoreFactory is replaced in tests.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: "Store API keys and database credentials in the operating system keyring. " +
			"Reference them from the config as keyring://" + secrets.ServiceName + "/<name>.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <name>",
			Short: "Store a secret read from stdin",
			Args:  cobra.ExactArgs(1),
			RunE:  runSecretSet,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored secret names",
			Args:  cobra.NoArgs,
			RunE:  runSecretList,
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a secret by name",
			Args:  cobra.ExactArgs(1),
			RunE:  runSecretDelete,
		},
	)

	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	in := bufio.NewScanner(cmd.InOrStdin())
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return dmerr.Wrap(err, dmerr.CodeCLIInputInvalid, "reading secret")
		}
	}
	value := strings.TrimSpace(in.Text())
	if value == "" {
		return dmerr.New(dmerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secretStoreFactory().Set(secrets.ServiceName, name, value); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s; reference it as keyring://%s/%s\n", name, secrets.ServiceName, name)
	return err
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.ServiceName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, err := fmt.Fprintln(out, "No secrets stored.")
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(out, k); err != nil {
			return err
		}
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := secretStoreFactory().Delete(secrets.ServiceName, name); err != nil {
		if dmerr.IsNotFound(err) {
			return dmerr.Errorf(dmerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret %s\n", name)
	return err
}
