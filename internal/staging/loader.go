// Package staging loads raw text files into the staging table the ingestion
// pipeline reads. One file line becomes one staged row, kept verbatim; the
// pipeline later splits rows on the delimiter, so the loader never parses
// them.
package staging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"stagecast/internal/metrics"
	"stagecast/internal/sqlgen"
	"stagecast/internal/storage"
)

// maxLineBytes bounds a single staged row. Wide datasets fit comfortably;
// anything larger is a malformed input file.
const maxLineBytes = 1024 * 1024

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Loader stages a raw text file into the staging table.
type Loader struct {
	Repo   storage.Repository
	Source sqlgen.StagingSource

	// Encoding is the IANA charset name of the input ("windows-1252",
	// "latin1", ...). Empty means the input is already UTF-8.
	Encoding string

	// BatchSize is the number of rows per insert batch. <= 0 means 1024.
	BatchSize int

	// Truncate clears previously staged rows before loading.
	Truncate bool

	Logger Logger
}

func (l *Loader) batchSize() int {
	if l.BatchSize <= 0 {
		return 1024
	}
	return l.BatchSize
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		lg := log.New(io.Discard, "", 0)
		return lg.Printf
	}
	return l.Logger.Printf
}

// LoadFile stages the file at path. See LoadReader.
func (l *Loader) LoadFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()
	return l.LoadReader(ctx, f)
}

// LoadReader stages every line of r and returns the number of staged rows.
//
// It ensures the staging namespace and table exist first, and clears prior
// rows when Truncate is set. Input is decoded from Encoding to UTF-8, a UTF-8
// BOM on the first line is dropped, and zero-length lines are skipped. Line
// content is otherwise staged verbatim.
func (l *Loader) LoadReader(ctx context.Context, r io.Reader) (int64, error) {
	start := time.Now()
	n, err := l.load(ctx, r)
	metrics.RecordStep("stage", err, time.Since(start))
	return n, err
}

func (l *Loader) load(ctx context.Context, r io.Reader) (int64, error) {
	if l.Repo == nil {
		return 0, fmt.Errorf("staging: Repo is required")
	}
	logf := l.logger()

	ddlStart := time.Now()
	if err := l.ensureTable(ctx); err != nil {
		return 0, err
	}
	logf("stage=staging_ddl ok table=%s duration=%s", l.qualified(), durMS(ddlStart))

	in, err := decodeReader(r, l.Encoding)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		total   int64
		batches int
		first   = true
	)
	batch := make([]string, 0, l.batchSize())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.Repo.InsertTextRows(ctx, l.qualified(), l.Source.Column, batch)
		if err != nil {
			return err
		}
		total += n
		batches++
		metrics.RecordBatch()
		metrics.RecordRows("staged", n)
		batch = batch[:0]
		return nil
	}

	scanStart := time.Now()
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if len(line) == 0 {
			continue
		}

		batch = append(batch, line)
		if len(batch) >= l.batchSize() {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read source: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}

	logf("stage=stage_rows ok rows=%d batches=%d duration=%s", total, batches, durMS(scanStart))
	return total, nil
}

// ensureTable makes the staging namespace and table exist, clearing prior
// rows when Truncate is set. The staging table is loader-owned
// infrastructure, so unlike the pipeline's destination table it is created
// with IF NOT EXISTS and survives re-runs.
func (l *Loader) ensureTable(ctx context.Context) error {
	if err := l.Repo.EnsureNamespace(ctx, l.Source.Schema); err != nil {
		return fmt.Errorf("ensure staging namespace: %w", err)
	}
	if _, err := l.Repo.Exec(ctx, sqlgen.BuildStagingTable(l.Source)); err != nil {
		return fmt.Errorf("create staging table %s: %w", l.qualified(), err)
	}
	if l.Truncate {
		if _, err := l.Repo.Exec(ctx, sqlgen.BuildClearStaging(l.Source)); err != nil {
			return fmt.Errorf("clear staging table %s: %w", l.qualified(), err)
		}
	}
	return nil
}

func (l *Loader) qualified() string {
	return sqlgen.QualifiedName(l.Source.Schema, l.Source.Table)
}

// decodeReader wraps r so reads yield UTF-8, decoding from the named IANA
// charset. An empty name passes r through untouched.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	if name == "" {
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown source encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported source encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
