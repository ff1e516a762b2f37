package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Check run stages, in execution order.
const (
	StageInit       = "init"
	StageConfig     = "config"
	StageConnect    = "connect"
	StageOpenFolder = "open_folder"
	StageSearch     = "search"
	StageFetch      = "fetch"
	StageProcess    = "process"
	StageComplete   = "complete"
)

// StageOrder lists the stages a run advances through, strictly monotonic.
var StageOrder = []string{
	StageInit, StageConfig, StageConnect, StageOpenFolder,
	StageSearch, StageFetch, StageProcess, StageComplete,
}

// CheckRunStore handles check run persistence
type CheckRunStore struct {
	db *sql.DB
}

// NewCheckRunStore creates a new check run store
func NewCheckRunStore(db *sql.DB) *CheckRunStore {
	return &CheckRunStore{db: db}
}

// Create inserts a new run in the started state.
func (s *CheckRunStore) Create(run *CheckRun) error {
	if run.Status == "" {
		run.Status = RunStatusStarted
	}
	if run.LastStage == "" {
		run.LastStage = StageInit
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO email_check_runs (
			run_uuid, monitor_id, trigger_source, started_at, status, last_stage
		) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunUUID, run.MonitorID, run.Trigger, run.StartedAt, run.Status, run.LastStage,
	)
	if err != nil {
		return fmt.Errorf("failed to create check run: %w", err)
	}
	run.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get check run id: %w", err)
	}
	return nil
}

// AdvanceStage records a stage transition together with the mailbox facts
// observed so far.
func (s *CheckRunStore) AdvanceStage(runUUID, stage string) error {
	_, err := s.db.Exec(
		"UPDATE email_check_runs SET last_stage = ? WHERE run_uuid = ? AND finished_at IS NULL",
		stage, runUUID,
	)
	if err != nil {
		return fmt.Errorf("failed to advance stage: %w", err)
	}
	return nil
}

// RecordMailbox stores the folder, UIDVALIDITY and search query on the run.
func (s *CheckRunStore) RecordMailbox(runUUID, folder string, uidValidity int64, searchQuery string) error {
	_, err := s.db.Exec(
		"UPDATE email_check_runs SET folder = ?, uidvalidity = ?, search_query = ? WHERE run_uuid = ? AND finished_at IS NULL",
		folder, uidValidity, searchQuery, runUUID,
	)
	if err != nil {
		return fmt.Errorf("failed to record mailbox facts: %w", err)
	}
	return nil
}

// Finalize writes the terminal state of a run exactly once. A run that has
// already been finalized is left untouched.
func (s *CheckRunStore) Finalize(run *CheckRun, stageTimings map[string]int64) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	var timingsJSON string
	if len(stageTimings) > 0 {
		raw, err := json.Marshal(stageTimings)
		if err != nil {
			return fmt.Errorf("failed to marshal stage timings: %w", err)
		}
		timingsJSON = string(raw)
	}
	run.StageTimings = timingsJSON

	_, err := s.db.Exec(`
		UPDATE email_check_runs
		SET finished_at = ?, status = ?, last_stage = ?,
		    found = ?, fetched = ?, attachments_total = ?, attachments_supported = ?,
		    emails_skipped = ?, emails_processed = ?, invoices_created = ?,
		    errors_count = ?, stage_timings = ?, error_message = NULLIF(?, '')
		WHERE run_uuid = ? AND finished_at IS NULL`,
		now, run.Status, run.LastStage,
		run.Found, run.Fetched, run.AttachmentsTotal, run.AttachmentsSupported,
		run.EmailsSkipped, run.EmailsProcessed, run.InvoicesCreated,
		run.ErrorsCount, timingsJSON, run.ErrorMessage,
		run.RunUUID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize check run: %w", err)
	}
	return nil
}

const checkRunColumns = `id, run_uuid, monitor_id, trigger_source, started_at, finished_at,
	status, last_stage, COALESCE(folder, ''), uidvalidity, COALESCE(search_query, ''),
	found, fetched, attachments_total, attachments_supported, emails_skipped,
	emails_processed, invoices_created, errors_count, COALESCE(stage_timings, ''),
	COALESCE(error_message, '')`

func scanCheckRun(row interface{ Scan(...interface{}) error }) (*CheckRun, error) {
	var r CheckRun
	err := row.Scan(
		&r.ID, &r.RunUUID, &r.MonitorID, &r.Trigger, &r.StartedAt, &r.FinishedAt,
		&r.Status, &r.LastStage, &r.Folder, &r.UIDValidity, &r.SearchQuery,
		&r.Found, &r.Fetched, &r.AttachmentsTotal, &r.AttachmentsSupported, &r.EmailsSkipped,
		&r.EmailsProcessed, &r.InvoicesCreated, &r.ErrorsCount, &r.StageTimings,
		&r.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetByUUID retrieves a run by its UUID. Returns nil if not found.
func (s *CheckRunStore) GetByUUID(runUUID string) (*CheckRun, error) {
	row := s.db.QueryRow("SELECT "+checkRunColumns+" FROM email_check_runs WHERE run_uuid = ?", runUUID)
	r, err := scanCheckRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check run: %w", err)
	}
	return r, nil
}

// ListByMonitor returns the most recent runs for a monitor.
func (s *CheckRunStore) ListByMonitor(monitorID int64, limit int) ([]CheckRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT "+checkRunColumns+" FROM email_check_runs WHERE monitor_id = ? ORDER BY started_at DESC, id DESC LIMIT ?",
		monitorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list check runs: %w", err)
	}
	defer rows.Close()

	var runs []CheckRun
	for rows.Next() {
		r, err := scanCheckRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
