// Package trace records step-by-step parse traces for ingestion runs. The
// collector keeps a bounded in-memory ring of recent traces with a
// retention TTL and can mirror finished traces into the store.
package trace

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"invoice-ingest/internal/database"
)

// TraceVersion identifies the trace format.
const TraceVersion = "1.0"

const (
	// DefaultCapacity bounds the in-memory ring.
	DefaultCapacity = 100
	// DefaultTTL is how long a finished trace stays recallable.
	DefaultTTL = 24 * time.Hour
)

// Step is one recorded pipeline step.
type Step struct {
	Name       string          `json:"name"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
	Level      string          `json:"level"` // "info", "warn" or "error"
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// Trace is the step log for one run.
type Trace struct {
	Version   string    `json:"trace_version"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Steps     []Step    `json:"steps"`

	mu       sync.Mutex
	verbose  bool
	warnings int
	errors   int
}

// Summary is the compact form persisted alongside the full trace.
type Summary struct {
	RunID      string `json:"run_id"`
	StepCount  int    `json:"step_count"`
	Warnings   int    `json:"warnings"`
	Errors     int    `json:"errors"`
	DurationMs int64  `json:"duration_ms"`
}

// Store is the persistence collaborator for finished traces.
type Store interface {
	Upsert(row *database.ParseTraceRow) error
}

// Collector owns the ring of recent traces. A nil *Collector is valid and
// drops everything, so call sites never need to branch on the tracing flag.
type Collector struct {
	mu       sync.Mutex
	traces   map[string]*Trace
	order    []string
	capacity int
	ttl      time.Duration
	verbose  bool
	store    Store
	logger   *slog.Logger
}

// NewCollector creates a collector with the given ring capacity and TTL.
// Zero values select the defaults. verbose keeps the detail payloads of
// info-level steps; without it only warn and error details are recorded.
// store may be nil to skip mirroring.
func NewCollector(capacity int, ttl time.Duration, verbose bool, store Store, logger *slog.Logger) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		traces:   make(map[string]*Trace),
		capacity: capacity,
		ttl:      ttl,
		verbose:  verbose,
		store:    store,
		logger:   logger,
	}
}

// Begin opens a trace for a run and returns the handle passed into
// pipeline stages.
func (c *Collector) Begin(runID string) *Trace {
	if c == nil {
		return nil
	}
	t := &Trace{
		Version:   TraceVersion,
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		verbose:   c.verbose,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	if _, exists := c.traces[runID]; !exists {
		c.order = append(c.order, runID)
	}
	c.traces[runID] = t

	// Evict oldest beyond capacity
	for len(c.order) > c.capacity {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.traces, evict)
	}
	return t
}

// prune drops traces older than the TTL. Caller holds c.mu.
func (c *Collector) prune() {
	cutoff := time.Now().UTC().Add(-c.ttl)
	kept := c.order[:0]
	for _, runID := range c.order {
		t := c.traces[runID]
		if t != nil && t.StartedAt.Before(cutoff) {
			delete(c.traces, runID)
			continue
		}
		kept = append(kept, runID)
	}
	c.order = kept
}

// Get returns the trace for a run id, or nil.
func (c *Collector) Get(runID string) *Trace {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traces[runID]
}

// Finish closes a trace and mirrors it to the store when one is configured.
func (c *Collector) Finish(t *Trace, userID *int64) {
	if c == nil || t == nil {
		return
	}
	t.mu.Lock()
	t.EndedAt = time.Now().UTC()
	t.mu.Unlock()

	if c.store == nil {
		return
	}
	row, err := t.toRow(userID)
	if err != nil {
		c.logger.Warn("Failed to serialize parse trace", "run_id", t.RunID, "error", err)
		return
	}
	if err := c.store.Upsert(row); err != nil {
		c.logger.Warn("Failed to persist parse trace", "run_id", t.RunID, "error", err)
	}
}

// Step appends an info-level step. Safe on a nil trace.
func (t *Trace) Step(name string, started time.Time, detail interface{}) {
	t.record("info", name, started, detail)
}

// Warn appends a warn-level step.
func (t *Trace) Warn(name string, started time.Time, detail interface{}) {
	t.record("warn", name, started, detail)
}

// Error appends an error-level step.
func (t *Trace) Error(name string, started time.Time, detail interface{}) {
	t.record("error", name, started, detail)
}

func (t *Trace) record(level, name string, started time.Time, detail interface{}) {
	if t == nil {
		return
	}
	step := Step{
		Name:       name,
		StartedAt:  started.UTC(),
		DurationMs: time.Since(started).Milliseconds(),
		Level:      level,
	}
	if detail != nil && (level != "info" || t.verbose) {
		if raw, err := json.Marshal(detail); err == nil {
			step.Detail = raw
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.Steps = append(t.Steps, step)
	switch level {
	case "warn":
		t.warnings++
	case "error":
		t.errors++
	}
}

// Summarize returns the compact summary of the trace.
func (t *Trace) Summarize() Summary {
	if t == nil {
		return Summary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.EndedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return Summary{
		RunID:      t.RunID,
		StepCount:  len(t.Steps),
		Warnings:   t.warnings,
		Errors:     t.errors,
		DurationMs: end.Sub(t.StartedAt).Milliseconds(),
	}
}

func (t *Trace) toRow(userID *int64) (*database.ParseTraceRow, error) {
	t.mu.Lock()
	traceJSON, err := json.Marshal(t)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	summary := t.Summarize()
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	return &database.ParseTraceRow{
		RunID:       t.RunID,
		UserID:      userID,
		DurationMs:  summary.DurationMs,
		StepCount:   summary.StepCount,
		Warnings:    summary.Warnings,
		Errors:      summary.Errors,
		TraceJSON:   string(traceJSON),
		SummaryJSON: string(summaryJSON),
	}, nil
}
