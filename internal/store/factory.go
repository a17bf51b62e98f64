// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package store

import (
	"context"
	"sort"
	"sync"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// DatabaseConfig selects and configures a relational backend.
type DatabaseConfig struct {
	// Driver names a registered backend: "pgx" or "pq".
	Driver   string
	DSN      string
	MaxConns int32
}

// DatabaseFactory opens a Database for cfg.
type DatabaseFactory func(ctx context.Context, cfg DatabaseConfig) (Database, error)

var (
	databaseFactories = map[string]DatabaseFactory{}
	factoriesMu       sync.RWMutex
)

// RegisterDatabase registers a backend under driver. Backend packages call
// this from init(). This function is goroutine-safe.
func RegisterDatabase(driver string, factory DatabaseFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	databaseFactories[driver] = factory
}

// Drivers lists the registered backend names, sorted.
func Drivers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(databaseFactories))
	for name := range databaseFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDatabase opens the backend named by cfg.Driver, defaulting to "pgx".
func OpenDatabase(ctx context.Context, cfg DatabaseConfig) (Database, error) {
	if cfg.Driver == "" {
		cfg.Driver = "pgx"
	}
	if cfg.DSN == "" {
		return nil, dmerr.New(dmerr.CodeStoreInvalidInput, "database dsn is required")
	}

	factoriesMu.RLock()
	factory, ok := databaseFactories[cfg.Driver]
	factoriesMu.RUnlock()
	if !ok {
		return nil, dmerr.Errorf(dmerr.CodeStoreBackendUnsupported, "unsupported database driver: %q", cfg.Driver)
	}

	return factory(ctx, cfg)
}
