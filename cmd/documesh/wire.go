// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/config"
	"github.com/documesh-dev/documesh/internal/conversation"
	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	anthropicprov "github.com/documesh-dev/documesh/internal/provider/anthropic"
	googleprov "github.com/documesh-dev/documesh/internal/provider/google"
	"github.com/documesh-dev/documesh/internal/provider/mock"
	openaiprov "github.com/documesh-dev/documesh/internal/provider/openai"
	"github.com/documesh-dev/documesh/internal/store"
	_ "github.com/documesh-dev/documesh/internal/store/postgres" // register pgx backend
	_ "github.com/documesh-dev/documesh/internal/store/pq"       // register pq backend
	"github.com/documesh-dev/documesh/internal/store/sqlite"
	"github.com/documesh-dev/documesh/internal/telemetry"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

// mockRef routes every request to the mock provider.
const mockRef = "mock/mock"

// healthTimeout bounds the database ping of one health check.
const healthTimeout = 2 * time.Second

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	DB            store.Database
	Conversations *conversation.Service
	Registry      *provider.Registry
	Guard         *guard.Guard
	Agent         *agent.Loop
	Telemetry     *telemetry.Telemetry

	convStore *sqlite.ConversationStore
	log       zerolog.Logger
}

// Wire opens the configured database and builds every subsystem on it.
func Wire(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := store.OpenDatabase(ctx, store.DatabaseConfig{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeCLISetupFailure, "opening database")
	}

	app, err := wireWith(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// wireWith builds every subsystem on an already opened database.
func wireWith(ctx context.Context, cfg *config.Config, db store.Database) (*App, error) {
	log := logging.For("wire")

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	}, logging.For("telemetry"))
	if err != nil {
		return nil, err
	}
	inst := telemetry.Global()

	reg, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	convStore, err := sqlite.NewConversationStore(cfg.Conversations.Path)
	if err != nil {
		_ = reg.Close()
		_ = tel.Shutdown(ctx)
		return nil, dmerr.Wrap(err, dmerr.CodeCLISetupFailure, "opening conversation store")
	}

	g := guard.New(db, guard.WithLogger(logging.For("query-guard")), guard.WithInstruments(inst))
	tools, err := agent.NewToolset(agent.DefaultTools(g, db)...)
	if err != nil {
		_ = convStore.Close()
		_ = reg.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	loop := agent.New(reg, tools,
		agent.WithModel(reg.DefaultRef()),
		agent.WithInstruments(inst),
	)

	return &App{
		DB:            db,
		Conversations: conversation.New(convStore),
		Registry:      reg,
		Guard:         g,
		Agent:         loop,
		Telemetry:     tel,
		convStore:     convStore,
		log:           log,
	}, nil
}

// buildRegistry registers every provider with a key. With models.mock set,
// or with no key at all, only the mock provider is registered and every
// request is routed to it.
func buildRegistry(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	if !cfg.Models.Mock {
		for _, name := range config.KnownProviders {
			key := cfg.ProviderKey(name)
			if key == "" || name == mock.Name {
				continue
			}
			p, err := newProvider(ctx, name, key, cfg.Providers[name].Endpoint)
			if err != nil {
				return nil, dmerr.Wrapf(err, dmerr.CodeCLISetupFailure, "creating provider %s", name)
			}
			reg.Register(p)
			log.Debug().Str("provider", name).Msg("registered provider")
		}
	}

	if cfg.Models.Mock || len(reg.Names()) == 0 {
		if !cfg.Models.Mock {
			log.Warn().Msg("no provider api key configured, answering with the mock provider")
		}
		reg.Register(mock.New())
		if err := reg.SetDefault(mockRef); err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeCLISetupFailure, "setting default provider")
		}
		return reg, nil
	}

	if err := reg.SetDefault(cfg.Models.Default); err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeCLISetupFailure, "setting default provider: %s", cfg.Models.Default)
	}
	var failover []string
	for _, ref := range cfg.Models.Failover {
		name, _ := provider.ParseRef(ref)
		if !slices.Contains(reg.Names(), name) {
			log.Warn().Str("model", ref).Msg("skipping failover model without a configured provider")
			continue
		}
		failover = append(failover, ref)
	}
	if len(failover) > 0 {
		if err := reg.SetFailover(failover); err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeCLISetupFailure, "setting failover chain")
		}
	}
	return reg, nil
}

func newProvider(ctx context.Context, name, key, endpoint string) (provider.Provider, error) {
	switch name {
	case "google":
		return googleprov.New(ctx, googleprov.Config{APIKey: key})
	case "anthropic":
		return anthropicprov.New(anthropicprov.Config{APIKey: key, BaseURL: endpoint})
	case "openrouter":
		c := openaiprov.OpenRouter(key)
		if endpoint != "" {
			c.BaseURL = endpoint
		}
		return openaiprov.New(c)
	case "openai":
		return openaiprov.New(openaiprov.Config{APIKey: key, BaseURL: endpoint})
	default:
		return nil, dmerr.Errorf(dmerr.CodeProviderNotFound, "unknown provider %q", name)
	}
}

// Health reports the database and every provider.
func (a *App) Health(ctx context.Context) []health.Component {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	db := health.Component{Name: "database", Status: health.StatusOK}
	if err := a.DB.Ping(ctx); err != nil {
		a.log.Warn().Err(err).Msg("database ping failed")
		db.Status = health.StatusDown
		db.Message = "database unreachable"
	}
	return append([]health.Component{db}, a.Registry.Health()...)
}

// Close releases every subsystem, flushing telemetry last.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.convStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return dmerr.Join(errs...)
	}
	return nil
}
