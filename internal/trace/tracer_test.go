package trace

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"invoice-ingest/internal/database"
)

type memoryStore struct {
	rows []*database.ParseTraceRow
}

func (s *memoryStore) Upsert(row *database.ParseTraceRow) error {
	s.rows = append(s.rows, row)
	return nil
}

func newTestCollector(capacity int, ttl time.Duration, store Store) *Collector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCollector(capacity, ttl, false, store, logger)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	tr := c.Begin("run-1")
	if tr != nil {
		t.Fatal("Nil collector must return a nil trace")
	}
	// All trace operations must be no-ops on nil.
	tr.Step("extraction", time.Now(), nil)
	tr.Warn("extraction", time.Now(), nil)
	tr.Error("extraction", time.Now(), nil)
	c.Finish(tr, nil)
	if got := c.Get("run-1"); got != nil {
		t.Error("Nil collector must return nil traces")
	}
	if s := tr.Summarize(); s.StepCount != 0 {
		t.Error("Nil trace summary must be zero")
	}
}

func TestCollectorRecordsSteps(t *testing.T) {
	c := newTestCollector(0, 0, nil)

	tr := c.Begin("run-1")
	started := time.Now()
	tr.Step("extraction", started, map[string]any{"method": "ocr"})
	tr.Warn("parsing", started, nil)
	tr.Error("canonical", started, nil)
	c.Finish(tr, nil)

	got := c.Get("run-1")
	if got == nil {
		t.Fatal("Expected trace to be recallable")
	}
	summary := got.Summarize()
	if summary.StepCount != 3 || summary.Warnings != 1 || summary.Errors != 1 {
		t.Errorf("Summary = %+v, want 3 steps, 1 warning, 1 error", summary)
	}
	if got.EndedAt.IsZero() {
		t.Error("Finish must stamp the end time")
	}
	if got.Version != TraceVersion {
		t.Errorf("Expected trace version %q, got %q", TraceVersion, got.Version)
	}
}

func TestVerboseGatesInfoStepDetail(t *testing.T) {
	quiet := newTestCollector(0, 0, nil)
	tr := quiet.Begin("run-quiet")
	tr.Step("extraction", time.Now(), map[string]any{"method": "ocr"})
	tr.Warn("parsing", time.Now(), map[string]any{"field": "total"})
	if tr.Steps[0].Detail != nil {
		t.Error("Info detail must be dropped unless verbose")
	}
	if tr.Steps[1].Detail == nil {
		t.Error("Warn detail must be kept regardless of verbose")
	}

	verbose := NewCollector(0, 0, true, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr = verbose.Begin("run-verbose")
	tr.Step("extraction", time.Now(), map[string]any{"method": "ocr"})
	if tr.Steps[0].Detail == nil {
		t.Error("Verbose collector must keep info detail")
	}
}

func TestCollectorCapacityEviction(t *testing.T) {
	c := newTestCollector(3, 0, nil)

	for i := 0; i < 5; i++ {
		c.Begin(fmt.Sprintf("run-%d", i))
	}

	if c.Get("run-0") != nil || c.Get("run-1") != nil {
		t.Error("Oldest traces must be evicted beyond capacity")
	}
	for i := 2; i < 5; i++ {
		if c.Get(fmt.Sprintf("run-%d", i)) == nil {
			t.Errorf("run-%d should still be held", i)
		}
	}
}

func TestCollectorTTLPrune(t *testing.T) {
	c := newTestCollector(0, time.Hour, nil)

	old := c.Begin("run-old")
	old.StartedAt = time.Now().UTC().Add(-2 * time.Hour)

	// The next Begin prunes expired entries.
	c.Begin("run-new")
	if c.Get("run-old") != nil {
		t.Error("Expired trace must be pruned")
	}
	if c.Get("run-new") == nil {
		t.Error("Fresh trace must survive the prune")
	}
}

func TestFinishMirrorsToStore(t *testing.T) {
	store := &memoryStore{}
	c := newTestCollector(0, 0, store)

	tr := c.Begin("run-1")
	tr.Step("extraction", time.Now(), map[string]any{"ok": true})
	userID := int64(7)
	c.Finish(tr, &userID)

	if len(store.rows) != 1 {
		t.Fatalf("Expected one persisted row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.RunID != "run-1" || row.StepCount != 1 {
		t.Errorf("Row = %+v", row)
	}
	if row.UserID == nil || *row.UserID != 7 {
		t.Error("Expected user id carried onto the row")
	}
	if row.TraceJSON == "" || row.SummaryJSON == "" {
		t.Error("Expected serialized trace and summary")
	}
}
