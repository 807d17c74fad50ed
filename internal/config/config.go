// Package config defines the pipeline configuration file format and its
// validation. One JSON document describes the storage backend, the staging
// location, the destination table, and the raw source file for the staging
// loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by its JSON path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Pipeline is the root configuration document.
//
// Example:
//
//	{
//	  "job": "crashes_2024",
//	  "storage": {"kind": "postgres", "dsn": "${DATABASE_URL}"},
//	  "staging": {"schema": "staging", "table": "raw_rows", "column": "line"},
//	  "destination": {"schema": "public", "table": "crashes"},
//	  "delimiter": "\t",
//	  "source": {"path": "crashes.tsv", "encoding": ""}
//	}
type Pipeline struct {
	// Job names the run for logs and metrics tags.
	Job string `json:"job"`

	Storage     Storage     `json:"storage"`
	Staging     Staging     `json:"staging"`
	Destination Destination `json:"destination"`

	// Delimiter joins the fields of every staged row. Fixed per invocation;
	// defaults to tab.
	Delimiter string `json:"delimiter"`

	// Source is consumed by the staging loader only; the pipeline itself
	// never reads files.
	Source Source `json:"source"`
}

// Storage selects the backend and its DSN. Environment references in the DSN
// (${VAR} or $VAR) are expanded at load time so secrets stay out of config
// files.
type Storage struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// Staging locates the single-column staging table.
type Staging struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Destination locates the table the pipeline creates and loads.
type Destination struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// Source describes the raw input file for the staging loader. Encoding is an
// IANA charset name ("windows-1252", "latin1", ...); empty means the file is
// already UTF-8.
type Source struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

// Load reads, decodes, defaults, and env-expands a config file.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	p.ApplyDefaults()
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	return p, nil
}

// ApplyDefaults fills the blanks a minimal config leaves open.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = "stagecast"
	}
	if p.Delimiter == "" {
		p.Delimiter = "\t"
	}
	if p.Staging.Schema == "" {
		p.Staging.Schema = "staging"
	}
	if p.Staging.Table == "" {
		p.Staging.Table = "raw_rows"
	}
	if p.Staging.Column == "" {
		p.Staging.Column = "line"
	}
	if p.Destination.Schema == "" {
		p.Destination.Schema = "public"
	}
}

// ValidatePipeline reports everything wrong or suspicious about a config.
// Errors make the config unusable; warnings do not stop a run.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	addErr := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: msg})
	}
	addWarn := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: msg})
	}

	if p.Storage.Kind == "" {
		addErr("storage.kind", "must be set (postgres, sqlite)")
	}
	if p.Storage.DSN == "" {
		addErr("storage.dsn", "must be set")
	} else if strings.Contains(p.Storage.DSN, "${") {
		addWarn("storage.dsn", "contains an unexpanded ${...} reference; is the environment variable set?")
	}

	if p.Destination.Table == "" {
		addErr("destination.table", "must be set")
	}
	if p.Staging.Table == "" {
		addErr("staging.table", "must be set")
	}
	if p.Staging.Column == "" {
		addErr("staging.column", "must be set")
	}

	switch {
	case p.Delimiter == "":
		addErr("delimiter", "must be set")
	case strings.ContainsAny(p.Delimiter, "\r\n"):
		addErr("delimiter", "cannot contain newline characters; staged rows are single lines")
	case strings.Contains(p.Delimiter, `"`):
		addWarn("delimiter", "contains a double quote; header fragments will quote oddly")
	}

	if p.Source.Path == "" {
		addWarn("source.path", "not set; the stage command will require -file")
	}

	return issues
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
