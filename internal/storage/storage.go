// Package storage defines the backend-agnostic repository surface the
// ingestion pipeline executes against, plus the factory registry that maps a
// configured backend kind to an implementation.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the storage surface the pipeline and the staging loader use.
// Statement text is generated elsewhere (internal/sqlgen); implementations
// execute it and surface the engine's diagnostics unchanged.
type Repository interface {
	// Close releases backend resources. Call once at process shutdown.
	Close()

	// EnsureNamespace makes the named namespace usable for subsequent
	// statements. Idempotent. Backends map the concept to their own notion
	// of a namespace (Postgres schemas, SQLite attached databases).
	EnsureNamespace(ctx context.Context, name string) error

	// Exec runs one generated statement and returns the affected row count
	// where the backend reports one (zero for DDL).
	Exec(ctx context.Context, stmt string) (int64, error)

	// QueryFirstText returns the first row of a query selecting a single
	// text column. ok is false when the result set is empty. A NULL value
	// reports ok with an empty string.
	QueryFirstText(ctx context.Context, query string) (value string, ok bool, err error)

	// InsertTextRows appends rows into the named table's single text
	// column, batching with bound parameters. table is an already qualified
	// name; column is bare and quoted by the backend.
	InsertTextRows(ctx context.Context, table, column string, rows []string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The kind string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Failing fast avoids ambiguous backend
//     selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
