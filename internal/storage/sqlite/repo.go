// Package sqlite implements storage.Repository on an embedded SQLite
// database. It exists for local runs and end-to-end tests: a split_part
// scalar function and ATTACH-mapped namespaces let the generated statements
// execute here unmodified.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"stagecast/internal/storage"
)

const insertChunkSize = 2000

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db  *sql.DB
	dsn string
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database and pins the pool to a single connection: ATTACH
// state and in-memory databases are per connection, so a second pooled
// connection would see a different database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repo{db: db, dsn: cfg.DSN}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureNamespace attaches a database under the given name, mapping the
// relational namespace concept onto SQLite. File-backed DSNs attach sibling
// files named <dsn>.<namespace>.db so staged data survives across processes;
// in-memory DSNs attach further in-memory databases.
func (r *Repo) EnsureNamespace(ctx context.Context, name string) error {
	if name == "" || name == "main" || name == "temp" {
		return nil
	}

	attached, err := r.attachedNamespaces(ctx)
	if err != nil {
		return err
	}
	if attached[name] {
		return nil
	}

	stmt := fmt.Sprintf("ATTACH DATABASE %s AS %s", quoteText(r.attachTarget(name)), sqlIdent(name))
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("attach namespace %s: %w", name, err)
	}
	return nil
}

func (r *Repo) attachedNamespaces(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return nil, fmt.Errorf("sqlite: database_list: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// attachTarget picks the database file backing a namespace.
func (r *Repo) attachTarget(name string) string {
	if isMemoryDSN(r.dsn) {
		return ":memory:"
	}
	base := strings.TrimPrefix(r.dsn, "file:")
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return base + "." + name + ".db"
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func (r *Repo) Exec(ctx context.Context, stmt string) (int64, error) {
	res, err := r.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repo) QueryFirstText(ctx context.Context, query string) (string, bool, error) {
	var v sql.NullString
	err := r.db.QueryRowContext(ctx, query).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

// InsertTextRows appends staged rows in chunks, one bound parameter per row.
func (r *Repo) InsertTextRows(ctx context.Context, table, column string, rows []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	col := sqlIdent(column)
	var total int64
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var b strings.Builder
		b.WriteString("INSERT INTO ")
		b.WriteString(table)
		b.WriteString(" (")
		b.WriteString(col)
		b.WriteString(") VALUES ")
		args := make([]any, 0, len(chunk))
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?)")
			args = append(args, row)
		}

		res, err := r.db.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func quoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
