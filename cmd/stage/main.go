// Command stage reads a delimited text file and appends its lines to the
// staging table, one row per line, byte for byte. It is the ingest half of
// the pipeline; run stagecast afterwards to type and load the staged rows.
//
// Usage:
//
//	stage -config configs/sample.json -file crashes.tsv
//	stage -config configs/sample.json -truncate -metrics-backend datadog
package main

import (
	"context"
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
	"stagecast/internal/sqlgen"
	"stagecast/internal/staging"
	"stagecast/internal/storage"
	_ "stagecast/internal/storage/all"
)

// backendCloser is what run needs from a metrics backend: the facade
// surface plus a shutdown hook that performs the final flush.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps carries the command's side effects so tests can substitute them.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	// OpenRepo opens the configured storage backend.
	OpenRepo func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// BackendFactory builds the Datadog metrics backend. Only consulted
	// when -metrics-backend=datadog.
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

type runConfig struct {
	ConfigPath     string
	FilePath       string
	Truncate       bool
	MetricsBackend string
	DDTagsCSV      string
	FlushEvery     time.Duration
	Verbose        bool
}

func main() {
	d := deps{
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
	}
	os.Exit(run(context.Background(), os.Args[1:], d))
}

// run stages one source file and returns the process exit code:
// 0 on success, 1 when staging fails, 2 on configuration errors.
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
	if cfg.FilePath != "" {
		p.Source.Path = cfg.FilePath
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(d.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(d.Stderr, "configuration is invalid: %s\n", cfg.ConfigPath)
		return 2
	}
	if p.Source.Path == "" {
		fmt.Fprintln(d.Stderr, "no source file: set source.path in the config or pass -file")
		return 2
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

	var logf staging.Logger
	if cfg.Verbose {
		logf = log.New(d.Stderr, "", log.LstdFlags)
	}

	loader := &staging.Loader{
		Repo:     repo,
		Source:   sqlgen.StagingSource{Schema: p.Staging.Schema, Table: p.Staging.Table, Column: p.Staging.Column},
		Encoding: p.Source.Encoding,
		Truncate: cfg.Truncate,
		Logger:   logf,
	}
	n, err := loader.LoadFile(ctx, p.Source.Path)
	if err != nil {
		fmt.Fprintf(d.Stderr, "%v\n", err)
		_ = metrics.Flush()
		return 1
	}
	fmt.Fprintf(d.Stdout, "staged %d rows into %s\n",
		n, sqlgen.QualifiedName(p.Staging.Schema, p.Staging.Table))

	_ = metrics.Flush()
	return 0
}

// parseFlags parses command arguments into a validated runConfig.
//
// flag.ErrHelp is reported as an error whose message is the usage text.
func parseFlags(args []string) (runConfig, error) {
	var cfg runConfig

	fs := flag.NewFlagSet("stage", flag.ContinueOnError)
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.ConfigPath, "config", "configs/sample.json", "path to the pipeline config file")
	fs.StringVar(&cfg.FilePath, "file", "", "source file to stage (overrides source.path from the config)")
	fs.BoolVar(&cfg.Truncate, "truncate", false, "clear the staging table before loading")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", "none", "metrics backend: datadog or none")
	fs.StringVar(&cfg.DDTagsCSV, "dd_tags", "", "extra Datadog tags, comma separated key:value pairs")
	fs.DurationVar(&cfg.FlushEvery, "metrics_flush", time.Minute, "how often to flush buffered metrics")
	fs.BoolVar(&cfg.Verbose, "v", false, "log progress to stderr")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return runConfig{}, fmt.Errorf("%s", usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%s", strings.TrimSpace(usageBuf.String()))
	}

	if cfg.ConfigPath == "" {
		return runConfig{}, fmt.Errorf("missing required -config <path>")
	}
	switch cfg.MetricsBackend {
	case "datadog", "none":
	default:
		return runConfig{}, fmt.Errorf("unknown -metrics-backend %q (want datadog or none)", cfg.MetricsBackend)
	}

	return cfg, nil
}
