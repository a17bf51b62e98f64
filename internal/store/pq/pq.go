// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package pq implements store.Database on database/sql with lib/pq.
package pq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Driver is the registered backend name.
const Driver = "pq"

func init() {
	store.RegisterDatabase(Driver, func(ctx context.Context, cfg store.DatabaseConfig) (store.Database, error) {
		return Open(ctx, cfg)
	})
}

var _ store.Database = (*DB)(nil)

// DB is a database/sql backed store.Database.
type DB struct {
	db *sql.DB
}

// Open connects with lib/pq.
func Open(_ context.Context, cfg store.DatabaseConfig) (*DB, error) {
	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeStoreInvalidInput, "parsing database dsn")
	}
	db := sql.OpenDB(connector)
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Ping(ctx context.Context) error {
	return store.DatabaseFailure(d.db.PingContext(ctx), "pinging database")
}

func (d *DB) Close() error {
	return d.db.Close()
}

const submissionQuery = `SELECT id, org_id, document_type, status, pipeline_version, file_key, final_data, created_at FROM submissions WHERE id = $1`

func (d *DB) GetSubmission(ctx context.Context, id string) (*store.Submission, error) {
	var (
		sub       store.Submission
		finalData []byte
	)
	err := d.db.QueryRowContext(ctx, submissionQuery, id).Scan(
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

const (
	organizationByID  = `SELECT id, name, allowed_ips, created_at FROM organizations WHERE id = $1`
	organizationByKey = `SELECT id, name, allowed_ips, created_at FROM organizations WHERE api_key = $1`
)

func (d *DB) GetOrganization(ctx context.Context, id string) (*store.Organization, error) {
	return d.getOrganization(ctx, organizationByID, id, dmerr.FieldOrgID(id))
}

func (d *DB) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*store.Organization, error) {
	return d.getOrganization(ctx, organizationByKey, apiKey)
}

func (d *DB) getOrganization(ctx context.Context, query, arg string, fields ...dmerr.Attr) (*store.Organization, error) {
	var (
		org     store.Organization
		allowed []byte
	)
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&org.ID, &org.Name, &allowed, &org.CreatedAt)
	if isNoRows(err) {
		return nil, store.NotFound(dmerr.CodeStoreOrganizationGetNotFound, "organization not found", fields...)
	}
	if err != nil {
		return nil, store.DatabaseFailure(err, "getting organization", fields...)
	}

	org.AllowedIPs = []string{}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &org.AllowedIPs); err != nil {
			return nil, store.DatabaseFailure(err, "decoding allowed_ips", dmerr.FieldOrgID(org.ID))
		}
	}
	return &org, nil
}

// Session opens a read-only transaction for one guarded query.
func (d *DB) Session(ctx context.Context) (guard.Session, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx *sql.Tx
}

func (s *session) Exec(ctx context.Context, query string) error {
	_, err := s.tx.ExecContext(ctx, query)
	return err
}

func (s *session) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMaps(rows)
}

func (s *session) Close(_ context.Context) error {
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// scanMaps reads every row into a column-name keyed map. JSON columns stay
// raw JSON; other byte values become strings.
func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(types))
		for i, col := range types {
			v := values[i]
			if b, ok := v.([]byte); ok && isJSONColumn(col.DatabaseTypeName()) && json.Valid(b) {
				v = json.RawMessage(append([]byte(nil), b...))
			}
			row[col.Name()] = store.NormalizeValue(v)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func isJSONColumn(typeName string) bool {
	t := strings.ToUpper(typeName)
	return t == "JSON" || t == "JSONB"
}

func isNoRows(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
