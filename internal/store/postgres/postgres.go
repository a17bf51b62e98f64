// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package postgres implements store.Database on a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Driver is the registered backend name.
const Driver = "pgx"

// invalidTextRepresentation is raised when an id is not a valid uuid.
const invalidTextRepresentation = "22P02"

func init() {
	store.RegisterDatabase(Driver, func(ctx context.Context, cfg store.DatabaseConfig) (store.Database, error) {
		return Open(ctx, cfg)
	})
}

var _ store.Database = (*DB)(nil)

// DB is a pgxpool-backed store.Database.
type DB struct {
	pool *pgxpool.Pool
}

// Open parses cfg.DSN and creates the pool. Connections are established
// lazily; call Ping to verify reachability.
func Open(ctx context.Context, cfg store.DatabaseConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeStoreInvalidInput, "parsing database dsn")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, store.DatabaseFailure(err, "creating connection pool")
	}
	return &DB{pool: pool}, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return store.DatabaseFailure(d.pool.Ping(ctx), "pinging database")
}

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

const submissionQuery = `SELECT id::text, org_id::text, document_type, status::text, pipeline_version, file_key, final_data, created_at
FROM submissions WHERE id = $1`

func (d *DB) GetSubmission(ctx context.Context, id string) (*store.Submission, error) {
	var (
		sub       store.Submission
		finalData []byte
	)
	err := d.pool.QueryRow(ctx, submissionQuery, id).Scan(
		&sub.ID,
		&sub.OrgID,
		&sub.DocumentType,
		&sub.Status,
		&sub.PipelineVersion,
		&sub.FileKey,
		&finalData,
		&sub.CreatedAt,
	)
	if isNoRows(err) {
		return nil, store.NotFound(dmerr.CodeStoreSubmissionGetNotFound, "submission not found", dmerr.Field("submission_id", id))
	}
	if err != nil {
		return nil, store.DatabaseFailure(err, "getting submission", dmerr.Field("submission_id", id))
	}
	if len(finalData) > 0 {
		sub.FinalData = json.RawMessage(finalData)
	}
	return &sub, nil
}

const organizationColumns = `id::text, name, allowed_ips, created_at`

func (d *DB) GetOrganization(ctx context.Context, id string) (*store.Organization, error) {
	return d.getOrganization(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id, dmerr.FieldOrgID(id))
}

func (d *DB) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*store.Organization, error) {
	return d.getOrganization(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE api_key = $1`, apiKey)
}

func (d *DB) getOrganization(ctx context.Context, query, arg string, fields ...dmerr.Attr) (*store.Organization, error) {
	var (
		org     store.Organization
		allowed []byte
	)
	err := d.pool.QueryRow(ctx, query, arg).Scan(&org.ID, &org.Name, &allowed, &org.CreatedAt)
	if isNoRows(err) {
		return nil, store.NotFound(dmerr.CodeStoreOrganizationGetNotFound, "organization not found", fields...)
	}
	if err != nil {
		return nil, store.DatabaseFailure(err, "getting organization", fields...)
	}
	if err := decodeAllowedIPs(allowed, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

func decodeAllowedIPs(raw []byte, org *store.Organization) error {
	org.AllowedIPs = []string{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &org.AllowedIPs); err != nil {
		return store.DatabaseFailure(err, "decoding allowed_ips", dmerr.FieldOrgID(org.ID))
	}
	return nil
}

// Session opens a read-only transaction. Settings applied with SET LOCAL
// end with it.
func (d *DB) Session(ctx context.Context) (guard.Session, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx pgx.Tx
}

func (s *session) Exec(ctx context.Context, sql string) error {
	_, err := s.tx.Exec(ctx, sql)
	return err
}

// Query returns driver errors untouched so the guard can classify them by
// SQLSTATE.
func (s *session) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	rows, err := s.tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	for _, row := range out {
		normalizeRow(row)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

func (s *session) Close(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func normalizeRow(row map[string]any) {
	for k, v := range row {
		row[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return store.NormalizeValue(v)
	}
}

func isNoRows(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
