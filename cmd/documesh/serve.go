// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/server"
)

// wireApp is replaced in tests.
var wireApp = Wire

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the documesh API server",
		Long:  "Load configuration, connect to the database and providers, and serve the chat and conversation API.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Close() //nolint:errcheck

	if listen := viper.GetString("networking.listen"); listen != "" {
		cfg.Networking.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	httpLog := logging.For("http")
	srv, err := server.New(server.Config{
		ListenAddr:      cfg.Networking.Listen,
		CORSOrigins:     cfg.Networking.CORSOrigins,
		TrustProxy:      cfg.Networking.TrustProxy,
		ShutdownTimeout: cfg.Networking.ShutdownTimeout,
		Version:         version,
	}, server.Deps{
		Orgs:          app.DB,
		Agent:         app.Agent,
		Conversations: app.Conversations,
		Health:        app.Health,
		Logger:        &httpLog,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("listen", cfg.Networking.Listen).
		Str("model", app.Registry.DefaultRef()).
		Strs("providers", app.Registry.Names()).
		Msg("starting documesh")
	return srv.Start(ctx)
}
