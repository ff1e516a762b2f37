package database

import (
	"database/sql"
	"fmt"
)

// TraceStore mirrors in-memory parse traces into the store
type TraceStore struct {
	db *sql.DB
}

// NewTraceStore creates a new trace store
func NewTraceStore(db *sql.DB) *TraceStore {
	return &TraceStore{db: db}
}

// Upsert writes a trace row, replacing any previous row for the run.
func (s *TraceStore) Upsert(row *ParseTraceRow) error {
	_, err := s.db.Exec(`
		INSERT INTO parse_traces (
			run_id, user_id, duration_ms, step_count, warnings, errors, trace_json, summary_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			user_id = excluded.user_id,
			duration_ms = excluded.duration_ms,
			step_count = excluded.step_count,
			warnings = excluded.warnings,
			errors = excluded.errors,
			trace_json = excluded.trace_json,
			summary_json = excluded.summary_json`,
		row.RunID, row.UserID, row.DurationMs, row.StepCount,
		row.Warnings, row.Errors, row.TraceJSON, row.SummaryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert parse trace: %w", err)
	}
	return nil
}

// Get retrieves the persisted trace for a run. Returns nil if not found.
func (s *TraceStore) Get(runID string) (*ParseTraceRow, error) {
	var row ParseTraceRow
	err := s.db.QueryRow(`
		SELECT id, run_id, user_id, duration_ms, step_count, warnings, errors,
		       COALESCE(trace_json, ''), COALESCE(summary_json, ''), created_at
		FROM parse_traces WHERE run_id = ?`,
		runID,
	).Scan(
		&row.ID, &row.RunID, &row.UserID, &row.DurationMs, &row.StepCount,
		&row.Warnings, &row.Errors, &row.TraceJSON, &row.SummaryJSON, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parse trace: %w", err)
	}
	return &row, nil
}
