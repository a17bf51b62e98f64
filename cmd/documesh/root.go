// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/documesh-dev/documesh/internal/config"
	"github.com/documesh-dev/documesh/internal/logging"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// defaultEnvFiles are loaded before the config, earlier files winning.
var defaultEnvFiles = []string{".env.local", ".env"}

// NewRootCmd creates the root documesh command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "documesh",
		Short:         "Documesh: ask questions about your organization's documents",
		Long:          "Documesh answers natural-language questions about processed documents by letting a language model run tenant-scoped, read-only SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initEnv(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().StringSlice("env-file", defaultEnvFiles, "dotenv files to load before reading config")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newQueryCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initEnv loads dotenv files and binds the global flags so later config
// loading sees them.
func initEnv(cmd *cobra.Command) error {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	if err := config.LoadDotEnv(files...); err != nil {
		return err
	}
	if err := viper.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return dmerr.Errorf(dmerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}
	return nil
}

// loadConfig reads the config named by --config and installs the root
// logger described by it. The caller closes the returned logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ResolveSecrets(secretStoreFactory()); err != nil {
		return nil, nil, err
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Redact: cfg.Logging.Redact,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}

	if path != "" {
		config.WarnInsecurePermissions(logging.For("config"), path)
	}
	return cfg, logger, nil
}
