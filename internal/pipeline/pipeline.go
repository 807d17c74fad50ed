// Package pipeline orchestrates dynamic-schema ingestion: infer a column
// schema from the staged header row, create the destination table, and bulk
// load every staged row through a generated positional projection.
//
// The two execution phases (create, load) are independent statements with no
// surrounding transaction. A failed create aborts before the load runs; a
// failed load leaves the created table behind, empty. Re-running against an
// existing destination fails in the create phase because the table already
// exists. This is a one-shot bulk import, not a repeatable operation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"stagecast/internal/metrics"
	"stagecast/internal/sqlgen"
)

// ErrEmptyStaging reports that the staging table holds no rows, so no schema
// can be inferred. Nothing is generated or executed in this case.
var ErrEmptyStaging = errors.New("pipeline: staging data is empty")

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Store is the slice of the storage layer the pipeline needs: executing one
// generated statement and reading the header row. storage.Repository
// satisfies it.
type Store interface {
	Exec(ctx context.Context, stmt string) (int64, error)
	QueryFirstText(ctx context.Context, query string) (string, bool, error)
}

// Pipeline runs header-driven ingestion from a staging table into a
// destination table it creates.
//
// The staging table is read-only to the pipeline and is retained after
// ingestion; the header row is loaded along with the data and is the
// caller's to remove afterwards.
type Pipeline struct {
	Repo    Store
	Staging sqlgen.StagingSource

	// Delimiter joins the fields of every staged row. Empty means tab.
	Delimiter string

	Logger Logger
}

func (p *Pipeline) delimiter() string {
	if p.Delimiter == "" {
		return "\t"
	}
	return p.Delimiter
}

func (p *Pipeline) logger() func(format string, v ...any) {
	if p.Logger == nil {
		l := log.New(io.Discard, "", 0)
		return l.Printf
	}
	return p.Logger.Printf
}

// InferColumns reads the header row from the staging table, splits it on the
// delimiter, and returns the sanitized column identifiers in field order.
//
// Edge cases:
//   - An empty staging table returns ErrEmptyStaging.
//   - Fragments are sanitized individually; a fragment needing quoting comes
//     back wrapped in double quotes, ready to embed in generated statements.
//
// Errors:
//   - Any storage error reading the header row, wrapped with context.
func (p *Pipeline) InferColumns(ctx context.Context) ([]string, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("pipeline: Repo is required")
	}

	header, ok, err := p.Repo.QueryFirstText(ctx, sqlgen.BuildHeaderQuery(p.Staging))
	if err != nil {
		return nil, fmt.Errorf("read header row: %w", err)
	}
	if !ok {
		return nil, ErrEmptyStaging
	}

	fragments := strings.Split(header, p.delimiter())
	columns := make([]string, len(fragments))
	for i, f := range fragments {
		columns[i] = sqlgen.SanitizeIdentifier(f)
	}
	return columns, nil
}

// BuildSchemaStatement infers the schema and returns the CREATE TABLE text
// for namespace.table without executing it.
func (p *Pipeline) BuildSchemaStatement(ctx context.Context, namespace, table string) (string, error) {
	columns, err := p.InferColumns(ctx)
	if err != nil {
		return "", err
	}
	return sqlgen.BuildCreateTable(namespace, table, columns)
}

// BuildLoadStatement infers the schema and returns the INSERT ... SELECT text
// for namespace.table without executing it.
func (p *Pipeline) BuildLoadStatement(ctx context.Context, namespace, table string) (string, error) {
	columns, err := p.InferColumns(ctx)
	if err != nil {
		return "", err
	}
	return sqlgen.BuildLoadStatement(namespace, table, columns, p.Staging, p.delimiter())
}

// CreateTable runs phase 1 alone: infer the schema, then generate and execute
// the CREATE TABLE statement.
//
// Errors:
//   - ErrEmptyStaging if nothing is staged.
//   - Any execution error from the store, wrapped with the target name. The
//     store's diagnostic text is preserved; nothing is retried or translated.
func (p *Pipeline) CreateTable(ctx context.Context, namespace, table string) error {
	logf := p.logger()

	columns, err := p.inferStep(ctx)
	if err != nil {
		return err
	}

	target := sqlgen.QualifiedName(namespace, table)
	start := time.Now()
	err = p.createTable(ctx, namespace, table, columns)
	metrics.RecordStep("create", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("create table %s: %w", target, err)
	}
	logf("stage=create ok table=%s columns=%d duration=%s", target, len(columns), durMS(start))
	return nil
}

// LoadData runs the whole ingestion: infer the schema once, create the
// destination table, then bulk load every staged row into it.
//
// The phases are not atomic. A create failure aborts before the load; a load
// failure leaves the already-created table in place with no rows from this
// run. A second LoadData against the same destination fails in the create
// phase.
func (p *Pipeline) LoadData(ctx context.Context, namespace, table string) error {
	logf := p.logger()

	columns, err := p.inferStep(ctx)
	if err != nil {
		return err
	}
	logf("stage=infer ok columns=%d", len(columns))

	target := sqlgen.QualifiedName(namespace, table)

	createStart := time.Now()
	err = p.createTable(ctx, namespace, table, columns)
	metrics.RecordStep("create", err, time.Since(createStart))
	if err != nil {
		return fmt.Errorf("create table %s: %w", target, err)
	}
	logf("stage=create ok table=%s duration=%s", target, durMS(createStart))

	loadStart := time.Now()
	affected, err := p.loadRows(ctx, namespace, table, columns)
	metrics.RecordStep("load", err, time.Since(loadStart))
	if err != nil {
		return fmt.Errorf("load data into %s: %w", target, err)
	}
	metrics.RecordRows("loaded", affected)
	logf("stage=load ok table=%s rows=%d duration=%s", target, affected, durMS(loadStart))

	return nil
}

// inferStep wraps InferColumns with step metrics.
func (p *Pipeline) inferStep(ctx context.Context) ([]string, error) {
	start := time.Now()
	columns, err := p.InferColumns(ctx)
	metrics.RecordStep("infer", err, time.Since(start))
	return columns, err
}

func (p *Pipeline) createTable(ctx context.Context, namespace, table string, columns []string) error {
	stmt, err := sqlgen.BuildCreateTable(namespace, table, columns)
	if err != nil {
		return err
	}
	_, err = p.Repo.Exec(ctx, stmt)
	return err
}

func (p *Pipeline) loadRows(ctx context.Context, namespace, table string, columns []string) (int64, error) {
	stmt, err := sqlgen.BuildLoadStatement(namespace, table, columns, p.Staging, p.delimiter())
	if err != nil {
		return 0, err
	}
	return p.Repo.Exec(ctx, stmt)
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
