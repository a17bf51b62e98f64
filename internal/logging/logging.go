// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package logging builds the process logger and per-service child loggers.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Config selects the level, format and destinations of the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or pretty
	File   string // optional log file, appended to
	Redact bool   // mask bearer tokens and API keys
	Output io.Writer
}

// Logger owns the root zerolog logger and any file it writes to.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New builds the root logger and installs it as the zerolog global so that
// For can derive child loggers from anywhere in the process.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "pretty" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{out}
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, dmerr.Wrapf(err, dmerr.CodeConfigLoadReadFailure, "creating log directory for %s", cfg.File)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, dmerr.Wrapf(err, dmerr.CodeConfigLoadReadFailure, "opening log file %s", cfg.File)
		}
		writers = append(writers, file)
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	if cfg.Redact {
		w = &redactingWriter{next: w}
	}

	root := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = root

	return &Logger{Logger: root, file: file}, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// For returns a child of the global logger tagged with the service name.
func For(service string) zerolog.Logger {
	return log.Logger.With().Str("service", service).Logger()
}

// Nop returns a disabled logger for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`\b(sk-(?:ant-)?)[A-Za-z0-9_-]{12,}`),
	regexp.MustCompile(`\b(AIza)[A-Za-z0-9_-]{20,}`),
}

type redactingWriter struct {
	next io.Writer
}

func (r *redactingWriter) Write(p []byte) (int, error) {
	out := p
	for _, re := range secretPatterns {
		out = re.ReplaceAll(out, []byte("${1}[REDACTED]"))
	}
	if _, err := r.next.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
