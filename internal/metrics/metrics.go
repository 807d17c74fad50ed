// Package metrics is a tiny facade between the pipeline and whatever metrics
// backend a command decides to wire in.
//
// The core packages record observations through package-level helpers
// (RecordStep, RecordRows, RecordBatch) and never import a vendor SDK. A
// command picks a backend at startup with SetBackend; until then a no-op
// backend swallows everything, so library code can record unconditionally.
//
// Metric names and label keys used by the helpers:
//
//	ingest_step_total              counter    step, status
//	ingest_step_duration_seconds   histogram  step, status
//	ingest_rows_total              counter    kind
//	ingest_batches_total           counter    -
//
// Backends are free to rename or re-tag these when they publish.
package metrics

import (
	"sync"
	"time"
)

// Labels carries the label set for one observation.
type Labels map[string]string

// Backend receives raw observations. Implementations must be safe for
// concurrent use; the pipeline records from multiple goroutines.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// flusher is implemented by backends that buffer observations.
type flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Passing nil restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the current backend to submit anything it has buffered.
// Backends without buffering (including the no-op default) report nil.
func Flush() error {
	if f, ok := current().(flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep records one completed pipeline step with its outcome and wall
// time. Status is derived from err: nil means ok.
func RecordStep(step string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := Labels{"step": step, "status": status}

	b := current()
	b.IncCounter("ingest_step_total", 1, labels)
	b.ObserveHistogram("ingest_step_duration_seconds", elapsed.Seconds(), labels)
}

// RecordRows records n rows moved, labeled by kind ("staged", "loaded", ...).
func RecordRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter("ingest_rows_total", float64(n), Labels{"kind": kind})
}

// RecordBatch records one completed insert batch.
func RecordBatch() {
	current().IncCounter("ingest_batches_total", 1, nil)
}
