// Package postgres implements storage.Repository on a pgx connection pool.
// This is the production backend: the generated statements target Postgres
// syntax (double-quoted identifiers, split_part) natively.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stagecast/internal/storage"
)

// insertChunkSize bounds the number of bound parameters per staging INSERT.
const insertChunkSize = 2000

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New opens a connection pool and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

// EnsureNamespace creates the schema when it does not exist yet.
func (r *Repo) EnsureNamespace(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(name)); err != nil {
		return fmt.Errorf("create schema %s: %w", name, err)
	}
	return nil
}

func (r *Repo) Exec(ctx context.Context, stmt string) (int64, error) {
	tag, err := r.pool.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repo) QueryFirstText(ctx context.Context, query string) (string, bool, error) {
	var v *string
	err := r.pool.QueryRow(ctx, query).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", true, nil
	}
	return *v, true, nil
}

// InsertTextRows appends staged rows in chunks of insertChunkSize, one bound
// parameter per row.
func (r *Repo) InsertTextRows(ctx context.Context, table, column string, rows []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var total int64
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		args := make([]any, len(chunk))
		for i, row := range chunk {
			args[i] = row
		}

		tag, err := r.pool.Exec(ctx, buildInsertSQL(table, column, len(chunk)), args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL returns the placeholder INSERT for one chunk of n rows.
// table arrives already qualified; column is quoted here.
func buildInsertSQL(table, column string, n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(pgIdent(column))
	b.WriteString(") VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d)", i+1)
	}
	return b.String()
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
