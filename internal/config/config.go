// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/documesh-dev/documesh/internal/secrets"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// EnvPrefix is prepended to every environment override (DOCUMESH_DATABASE_DSN).
const EnvPrefix = "DOCUMESH"

// Config is the top-level Documesh configuration.
type Config struct {
	Networking    NetworkingConfig          `mapstructure:"networking"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Models        ModelsConfig              `mapstructure:"models"`
	Database      DatabaseConfig            `mapstructure:"database"`
	Conversations ConversationsConfig       `mapstructure:"conversations"`
	Logging       LoggingConfig             `mapstructure:"logging"`
	Telemetry     TelemetryConfig           `mapstructure:"telemetry"`
}

// NetworkingConfig controls the HTTP listener.
type NetworkingConfig struct {
	Listen          string        `mapstructure:"listen"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection.
type ModelsConfig struct {
	Default  string   `mapstructure:"default"`
	Failover []string `mapstructure:"failover"`
	// Mock replaces every provider with the canned mock provider.
	Mock bool `mapstructure:"mock"`
}

// DatabaseConfig points at the tenant Postgres database.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // pgx or pq
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConversationsConfig locates the conversation store.
type ConversationsConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
	Redact bool   `mapstructure:"redact"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// KnownProviders lists the provider names the CLI can construct.
var KnownProviders = []string{"google", "openai", "anthropic", "openrouter", "mock"}

// legacyEnv maps keys to the unprefixed variables older deployments use.
var legacyEnv = map[string]string{
	"database.dsn":                 "DATABASE_URL",
	"models.mock":                  "MOCK_LLM",
	"providers.google.api_key":     "GOOGLE_GENERATIVE_AI_API_KEY",
	"providers.openai.api_key":     "OPENAI_API_KEY",
	"providers.anthropic.api_key":  "ANTHROPIC_API_KEY",
	"providers.openrouter.api_key": "OPENROUTER_API_KEY",
}

// Load reads configuration from the given path (or defaults only) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, dmerr.Errorf(dmerr.CodeConfigLoadReadFailure, "binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, dmerr.Errorf(dmerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, dmerr.Errorf(dmerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:8080")
	v.SetDefault("networking.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("networking.shutdown_timeout", "10s")
	v.SetDefault("networking.trust_proxy", true)
	v.SetDefault("models.default", "google/gemini-2.5-flash")
	v.SetDefault("models.mock", false)
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("conversations.path", "documesh-conversations.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.redact", true)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "documesh")
	for _, name := range KnownProviders {
		if name == "mock" {
			continue
		}
		v.SetDefault("providers."+name+".api_key", "")
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return dmerr.Errorf(dmerr.CodeConfigLoadReadFailure, "loading env file %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

// ResolveSecrets replaces keyring:// references in provider API keys and
// the database DSN with the secrets they name.
func (c *Config) ResolveSecrets(s secrets.Store) error {
	for name, pc := range c.Providers {
		key, err := secrets.Resolve(s, pc.APIKey)
		if err != nil {
			return dmerr.Wrapf(err, dmerr.CodeConfigLoadReadFailure, "providers.%s.api_key", name)
		}
		pc.APIKey = key
		c.Providers[name] = pc
	}

	dsn, err := secrets.Resolve(s, c.Database.DSN)
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeConfigLoadReadFailure, "database.dsn")
	}
	c.Database.DSN = dsn
	return nil
}

// ProviderKey returns the configured API key for name, or "".
func (c *Config) ProviderKey(name string) string {
	if c.Providers == nil {
		return ""
	}
	return c.Providers[name].APIKey
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		return append(errs, invalid("config: networking.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		return append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	switch {
	case err != nil:
		errs = append(errs, invalid("config: networking.listen port must be a number, got %q", portStr))
	case port < 1 || port > 65535:
		errs = append(errs, invalid("config: networking.listen port must be between 1 and 65535, got %d", port))
	}

	if c.Networking.ShutdownTimeout < 0 {
		errs = append(errs, invalid("config: networking.shutdown_timeout must not be negative, got %s", c.Networking.ShutdownTimeout))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	refs := append([]string{c.Models.Default}, c.Models.Failover...)
	for i, ref := range refs {
		field := "models.default"
		if i > 0 {
			field = "models.failover[" + strconv.Itoa(i-1) + "]"
		}
		if ref == "" {
			errs = append(errs, invalid("config: %s must not be empty", field))
			continue
		}
		name, model, ok := strings.Cut(ref, "/")
		if !ok || name == "" || model == "" {
			errs = append(errs, invalid("config: %s must be in \"provider/model\" format, got %q", field, ref))
			continue
		}
		if !known(name) {
			errs = append(errs, invalid("config: %s references unknown provider %q", field, name))
		}
	}

	return errs
}

func (c *Config) validateDatabase() []error {
	var errs []error

	if c.Database.Driver != "pgx" && c.Database.Driver != "pq" {
		errs = append(errs, invalid("config: database.driver must be one of [pgx, pq], got %q", c.Database.Driver))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, invalid("config: database.max_conns must be greater than 0, got %d", c.Database.MaxConns))
	}
	if c.Conversations.Path == "" {
		errs = append(errs, invalid("config: conversations.path must not be empty"))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("config: logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "pretty" {
		errs = append(errs, invalid("config: logging.format must be one of [json, pretty], got %q", c.Logging.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, invalid("config: telemetry.endpoint must be set when telemetry is enabled"))
	}

	return errs
}

func known(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue, format, args...)
}
