package database

import (
	"database/sql"
	"fmt"
)

// IngestionStore handles ingestion runs and their invoice items
type IngestionStore struct {
	db *sql.DB
}

// NewIngestionStore creates a new ingestion store
func NewIngestionStore(db *sql.DB) *IngestionStore {
	return &IngestionStore{db: db}
}

// CreateRun inserts a run in the processing state. The ownership trigger
// rejects a nil owner.
func (s *IngestionStore) CreateRun(run *IngestionRun) error {
	if run.Status == "" {
		run.Status = IngestionStatusProcessing
	}
	_, err := s.db.Exec(`
		INSERT INTO ingestion_runs (
			run_id, user_id, account_name, vendor_name, file_name, file_size, status
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		run.RunID, run.UserID, run.AccountName, run.VendorName, run.FileName,
		run.FileSize, run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create ingestion run: %w", err)
	}
	return nil
}

// CompleteRun finalizes a run and stores its items in one transaction so a
// partial item write never leaves a completed run half-populated.
func (s *IngestionStore) CompleteRun(runID, vendorName string, totalCents *int64, items []InvoiceItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE ingestion_runs
		SET status = ?, vendor_name = COALESCE(NULLIF(?, ''), vendor_name), invoice_total_cents = ?
		WHERE run_id = ?`,
		IngestionStatusCompleted, vendorName, totalCents, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete ingestion run: %w", err)
	}

	for i := range items {
		items[i].RunID = runID
		_, err := tx.Exec(`
			INSERT INTO invoice_items (run_id, description, quantity, unit_price_cents, total_cents, category)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))`,
			runID, items[i].Description, items[i].Quantity,
			items[i].UnitPriceCents, items[i].TotalCents, items[i].Category,
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingestion run: %w", err)
	}
	return nil
}

// FailRun marks a run failed.
func (s *IngestionStore) FailRun(runID string) error {
	_, err := s.db.Exec(
		"UPDATE ingestion_runs SET status = ? WHERE run_id = ?",
		IngestionStatusFailed, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to fail ingestion run: %w", err)
	}
	return nil
}

// GetRun retrieves an ingestion run by id. Returns nil if not found.
func (s *IngestionStore) GetRun(runID string) (*IngestionRun, error) {
	var r IngestionRun
	err := s.db.QueryRow(`
		SELECT run_id, user_id, COALESCE(account_name, ''), COALESCE(vendor_name, ''),
		       COALESCE(file_name, ''), file_size, status, invoice_total_cents,
		       created_at, updated_at
		FROM ingestion_runs WHERE run_id = ?`,
		runID,
	).Scan(
		&r.RunID, &r.UserID, &r.AccountName, &r.VendorName,
		&r.FileName, &r.FileSize, &r.Status, &r.InvoiceTotalCents,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion run: %w", err)
	}
	return &r, nil
}

// ListItems returns the items owned by a run, in insertion order.
func (s *IngestionStore) ListItems(runID string) ([]InvoiceItem, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, description, quantity, unit_price_cents, total_cents, COALESCE(category, '')
		FROM invoice_items WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer rows.Close()

	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.RunID, &it.Description, &it.Quantity,
			&it.UnitPriceCents, &it.TotalCents, &it.Category); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountRunsByPrefix counts ingestion runs whose run_id starts with the
// given prefix. Email runs are named `email-<monitorID>-…`, so the prefix
// selects everything a monitor's checks have produced.
func (s *IngestionStore) CountRunsByPrefix(prefix string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM ingestion_runs WHERE run_id LIKE ? || '%'", prefix,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ingestion runs: %w", err)
	}
	return count, nil
}
