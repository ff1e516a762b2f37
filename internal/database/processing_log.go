package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ProcessingLogStore handles per-message processing log entries
type ProcessingLogStore struct {
	db *sql.DB
}

// NewProcessingLogStore creates a new processing log store
func NewProcessingLogStore(db *sql.DB) *ProcessingLogStore {
	return &ProcessingLogStore{db: db}
}

// MarshalNames JSON-encodes a name list truncated to 10 entries for storage.
func MarshalNames(names []string) string {
	if len(names) == 0 {
		return ""
	}
	if len(names) > 10 {
		names = names[:10]
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Insert records one examined message.
func (s *ProcessingLogStore) Insert(e *ProcessingLogEntry) error {
	result, err := s.db.Exec(`
		INSERT INTO email_processing_log (
			monitor_id, check_run_uuid, uidvalidity, uid, message_id, subject,
			from_address, received_date, status, skip_reason, attachment_count,
			supported_count, mime_types, filenames, invoices_created,
			processing_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''))`,
		e.MonitorID, e.CheckRunUUID, e.UIDValidity, e.UID, e.MessageID, e.Subject,
		e.FromAddress, e.ReceivedDate, e.Status, e.SkipReason, e.AttachmentCount,
		e.SupportedCount, e.MimeTypes, e.Filenames, e.InvoicesCreated,
		e.ProcessingMs, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert processing log entry: %w", err)
	}
	e.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get processing log id: %w", err)
	}
	return nil
}

// IsUIDProcessed reports whether the (monitor, uidvalidity, uid) triple has
// a prior entry with a status that blocks reprocessing. Errors and skips
// are explicitly not dedupe-blocking so transient failures can retry.
func (s *ProcessingLogStore) IsUIDProcessed(monitorID, uidValidity, uid int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM email_processing_log
		WHERE monitor_id = ? AND uidvalidity = ? AND uid = ?
		  AND status NOT IN ('error', 'skipped')`,
		monitorID, uidValidity, uid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check uid dedupe: %w", err)
	}
	return count > 0, nil
}

// IsMessageIDProcessed is the fallback dedupe check on the Message-ID
// header, with the same status predicate as IsUIDProcessed.
func (s *ProcessingLogStore) IsMessageIDProcessed(monitorID int64, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM email_processing_log
		WHERE monitor_id = ? AND message_id = ?
		  AND status NOT IN ('error', 'skipped')`,
		monitorID, messageID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check message-id dedupe: %w", err)
	}
	return count > 0, nil
}

const processingLogColumns = `id, monitor_id, check_run_uuid, uidvalidity, uid,
	COALESCE(message_id, ''), COALESCE(subject, ''), COALESCE(from_address, ''),
	received_date, status, COALESCE(skip_reason, ''), attachment_count,
	supported_count, COALESCE(mime_types, ''), COALESCE(filenames, ''),
	invoices_created, processing_ms, COALESCE(error_message, ''), created_at`

func scanLogEntry(row interface{ Scan(...interface{}) error }) (*ProcessingLogEntry, error) {
	var e ProcessingLogEntry
	err := row.Scan(
		&e.ID, &e.MonitorID, &e.CheckRunUUID, &e.UIDValidity, &e.UID,
		&e.MessageID, &e.Subject, &e.FromAddress,
		&e.ReceivedDate, &e.Status, &e.SkipReason, &e.AttachmentCount,
		&e.SupportedCount, &e.MimeTypes, &e.Filenames,
		&e.InvoicesCreated, &e.ProcessingMs, &e.ErrorMessage, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByRun returns log entries for a specific check run.
func (s *ProcessingLogStore) ListByRun(runUUID string, limit int) ([]ProcessingLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		"SELECT "+processingLogColumns+" FROM email_processing_log WHERE check_run_uuid = ? ORDER BY id LIMIT ?",
		runUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing log by run: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// ListByMonitor returns the most recent log entries for a monitor.
func (s *ProcessingLogStore) ListByMonitor(monitorID int64, limit int) ([]ProcessingLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		"SELECT "+processingLogColumns+" FROM email_processing_log WHERE monitor_id = ? ORDER BY id DESC LIMIT ?",
		monitorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing log by monitor: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

func collectLogEntries(rows *sql.Rows) ([]ProcessingLogEntry, error) {
	var entries []ProcessingLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing log entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
