// Command stagecast runs header-driven ingestion: it infers a column schema
// from the staged header row, creates the destination table, and bulk loads
// every staged row into it.
//
// The default action is the full run (create + load). -columns, -print-only,
// and -create-only expose the intermediate steps for inspection and staged
// rollouts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"stagecast/internal/config"
	"stagecast/internal/metrics"
	"stagecast/internal/metrics/datadog"
	"stagecast/internal/pipeline"
	"stagecast/internal/sqlgen"
	"stagecast/internal/storage"

	// register all backends with the storage factory; config alone decides
	// which one runs.
	_ "stagecast/internal/storage/all"
)

// backendCloser is the minimal interface used by this command to manage a
// metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject a fake repository and metrics backend, capture
//     stdout/stderr.
//   - Production: main wires the real factories.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	OpenRepo       func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

// runConfig holds the parsed flags for a run.
type runConfig struct {
	ConfigPath string

	// Namespace and Table override the configured destination when set.
	Namespace string
	Table     string

	Validate   bool
	Columns    bool
	PrintOnly  bool
	CreateOnly bool

	MetricsBackend string
	DDTagsCSV      string
	FlushEvery     time.Duration

	Verbose bool
}

// main is intentionally small: it wires real dependencies and exits with a code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		OpenRepo: storage.New,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
	})
	os.Exit(code)
}

// run executes the ingestion command and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: the pipeline failed at run time.
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.OpenRepo == nil {
		fmt.Fprintln(d.Stderr, "internal error: OpenRepo is nil")
		return 2
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	p, err := config.Load(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "%v\n", err)
		return 2
	}
	if cfg.Namespace != "" {
		p.Destination.Schema = cfg.Namespace
	}
	if cfg.Table != "" {
		p.Destination.Table = cfg.Table
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		// The stage command needs source.path; this command does not.
		if iss.Path == "source.path" {
			continue
		}
		fmt.Fprintf(d.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(d.Stderr, "configuration is invalid: %s\n", cfg.ConfigPath)
		return 2
	}
	if cfg.Validate {
		fmt.Fprintf(d.Stdout, "configuration is valid: %s\n", cfg.ConfigPath)
		return 0
	}

	if cfg.MetricsBackend == "datadog" {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := datadog.ParseTagsCSV(cfg.DDTagsCSV)
		backend, err := d.BackendFactory(ctx, p.Job, tags, cfg.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			if err := backend.Close(); err != nil {
				fmt.Fprintf(d.Stderr, "metrics: close/flush error: %v\n", err)
			}
		}()
	}

	repo, err := d.OpenRepo(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		fmt.Fprintf(d.Stderr, "open storage: %v\n", err)
		return 2
	}
	defer repo.Close()

	var logger pipeline.Logger
	if cfg.Verbose {
		logger = log.New(d.Stderr, "", log.LstdFlags)
	}

	pipe := &pipeline.Pipeline{
		Repo: repo,
		Staging: sqlgen.StagingSource{
			Schema: p.Staging.Schema,
			Table:  p.Staging.Table,
			Column: p.Staging.Column,
		},
		Delimiter: p.Delimiter,
		Logger:    logger,
	}

	// The staging namespace must be reachable before the header query, and
	// the destination namespace before the create phase.
	for _, ns := range []string{p.Staging.Schema, p.Destination.Schema} {
		if err := repo.EnsureNamespace(ctx, ns); err != nil {
			fmt.Fprintf(d.Stderr, "prepare namespace: %v\n", err)
			return 1
		}
	}

	if err := dispatch(ctx, cfg, p, pipe, d.Stdout); err != nil {
		fmt.Fprintf(d.Stderr, "%v\n", err)
		_ = metrics.Flush()
		return 1
	}

	_ = metrics.Flush()
	return 0
}

// dispatch runs the action the flags selected.
func dispatch(ctx context.Context, cfg runConfig, p config.Pipeline, pipe *pipeline.Pipeline, stdout io.Writer) error {
	ns, table := p.Destination.Schema, p.Destination.Table

	switch {
	case cfg.Columns:
		columns, err := pipe.InferColumns(ctx)
		if err != nil {
			return err
		}
		for _, c := range columns {
			fmt.Fprintln(stdout, c)
		}
		return nil

	case cfg.PrintOnly:
		schema, err := pipe.BuildSchemaStatement(ctx, ns, table)
		if err != nil {
			return err
		}
		load, err := pipe.BuildLoadStatement(ctx, ns, table)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, schema)
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, load)
		return nil

	case cfg.CreateOnly:
		return pipe.CreateTable(ctx, ns, table)

	default:
		if err := pipe.LoadData(ctx, ns, table); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "loaded %s into %s\n",
			sqlgen.QualifiedName(p.Staging.Schema, p.Staging.Table),
			sqlgen.QualifiedName(ns, table))
		return nil
	}
}

// parseFlags parses command arguments into a validated runConfig.
//
// Errors:
//   - Returns an error for invalid/missing required flags.
//   - Does not exit the process (caller decides exit code).
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("stagecast", flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)

	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.StringVar(&cfg.ConfigPath, "config", "configs/sample.json", "pipeline config JSON path")
	fs.StringVar(&cfg.Namespace, "namespace", "", "destination namespace (overrides config)")
	fs.StringVar(&cfg.Table, "table", "", "destination table (overrides config)")
	fs.BoolVar(&cfg.Validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&cfg.Columns, "columns", false, "print the inferred column identifiers and exit")
	fs.BoolVar(&cfg.PrintOnly, "print-only", false, "print the generated statements without executing them")
	fs.BoolVar(&cfg.CreateOnly, "create-only", false, "create the destination table but do not load it")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	fs.StringVar(&cfg.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,service:ingest)")
	fs.DurationVar(&cfg.FlushEvery, "metrics_flush", 1*time.Minute, "Datadog flush interval")
	fs.BoolVar(&cfg.Verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		// When -h / -help is passed, flag.Parse returns flag.ErrHelp.
		// Return the captured usage text so caller prints it.
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.ConfigPath == "" {
		return runConfig{}, errors.New("missing required -config <path>")
	}
	switch cfg.MetricsBackend {
	case "", "none", "datadog":
	default:
		return runConfig{}, fmt.Errorf("unknown -metrics-backend %q (want datadog or none)", cfg.MetricsBackend)
	}

	modes := 0
	for _, on := range []bool{cfg.Columns, cfg.PrintOnly, cfg.CreateOnly} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return runConfig{}, errors.New("-columns, -print-only and -create-only are mutually exclusive")
	}

	return cfg, nil
}
