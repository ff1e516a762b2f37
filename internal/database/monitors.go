package database

import (
	"database/sql"
	"fmt"
	"time"
)

// MonitorStore handles email monitor operations
type MonitorStore struct {
	db *sql.DB
}

// NewMonitorStore creates a new monitor store
func NewMonitorStore(db *sql.DB) *MonitorStore {
	return &MonitorStore{db: db}
}

const monitorColumns = `id, user_id, email_address, folder, imap_host, imap_port,
	auth_method, COALESCE(encrypted_password, ''), COALESCE(oauth_client_id, ''),
	COALESCE(oauth_client_secret, ''), COALESCE(oauth_refresh_token, ''),
	COALESCE(oauth_access_token, ''), oauth_token_expiry, active,
	require_invoice_keywords, emails_processed_count, invoices_created_count,
	last_checked_at, COALESCE(last_error, ''), created_at, updated_at`

func scanMonitor(row interface{ Scan(...interface{}) error }) (*Monitor, error) {
	var m Monitor
	err := row.Scan(
		&m.ID, &m.UserID, &m.EmailAddress, &m.Folder, &m.IMAPHost, &m.IMAPPort,
		&m.AuthMethod, &m.EncryptedPassword, &m.OAuthClientID,
		&m.OAuthClientSecret, &m.OAuthRefreshToken,
		&m.OAuthAccessToken, &m.OAuthTokenExpiry, &m.Active,
		&m.RequireInvoiceKeywords, &m.EmailsProcessedCount, &m.InvoicesCreatedCount,
		&m.LastCheckedAt, &m.LastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new monitor. The ownership trigger rejects a nil owner.
func (s *MonitorStore) Create(m *Monitor) error {
	if m.Folder == "" {
		m.Folder = "inbox"
	}
	if m.IMAPPort == 0 {
		m.IMAPPort = 993
	}
	result, err := s.db.Exec(`
		INSERT INTO email_monitors (
			user_id, email_address, folder, imap_host, imap_port, auth_method,
			encrypted_password, oauth_client_id, oauth_client_secret,
			oauth_refresh_token, oauth_access_token, oauth_token_expiry,
			active, require_invoice_keywords
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.EmailAddress, m.Folder, m.IMAPHost, m.IMAPPort, m.AuthMethod,
		m.EncryptedPassword, m.OAuthClientID, m.OAuthClientSecret,
		m.OAuthRefreshToken, m.OAuthAccessToken, m.OAuthTokenExpiry,
		m.Active, m.RequireInvoiceKeywords,
	)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	m.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get monitor id: %w", err)
	}
	return nil
}

// GetByID retrieves a monitor by id. Returns nil if not found.
func (s *MonitorStore) GetByID(id int64) (*Monitor, error) {
	row := s.db.QueryRow("SELECT "+monitorColumns+" FROM email_monitors WHERE id = ?", id)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return m, nil
}

// ListActive returns all active monitors
func (s *MonitorStore) ListActive() ([]Monitor, error) {
	rows, err := s.db.Query("SELECT " + monitorColumns + " FROM email_monitors WHERE active = TRUE ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active monitors: %w", err)
	}
	defer rows.Close()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// List returns all monitors
func (s *MonitorStore) List() ([]Monitor, error) {
	rows, err := s.db.Query("SELECT " + monitorColumns + " FROM email_monitors ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	defer rows.Close()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// RecordCheckOutcome updates the monitor counters after a run completes.
// Counters only advance when invoices were created; last_checked_at is
// always refreshed and last_error reflects the run-level outcome.
func (s *MonitorStore) RecordCheckOutcome(monitorID int64, processed, invoicesCreated int, runErr string) error {
	now := time.Now().UTC()
	if invoicesCreated > 0 {
		_, err := s.db.Exec(`
			UPDATE email_monitors
			SET emails_processed_count = emails_processed_count + ?,
			    invoices_created_count = invoices_created_count + ?,
			    last_checked_at = ?,
			    last_error = NULLIF(?, '')
			WHERE id = ?`,
			processed, invoicesCreated, now, runErr, monitorID,
		)
		if err != nil {
			return fmt.Errorf("failed to record check outcome: %w", err)
		}
		return nil
	}

	_, err := s.db.Exec(`
		UPDATE email_monitors
		SET last_checked_at = ?, last_error = NULLIF(?, '')
		WHERE id = ?`,
		now, runErr, monitorID,
	)
	if err != nil {
		return fmt.Errorf("failed to record check outcome: %w", err)
	}
	return nil
}

// UpdateOAuthTokens persists a refreshed access token and its expiry.
func (s *MonitorStore) UpdateOAuthTokens(monitorID int64, accessToken string, expiry *time.Time) error {
	_, err := s.db.Exec(
		"UPDATE email_monitors SET oauth_access_token = ?, oauth_token_expiry = ? WHERE id = ?",
		accessToken, expiry, monitorID,
	)
	if err != nil {
		return fmt.Errorf("failed to update oauth tokens: %w", err)
	}
	return nil
}

// Delete removes a monitor. Check runs and processing logs cascade.
func (s *MonitorStore) Delete(id int64) error {
	_, err := s.db.Exec("DELETE FROM email_monitors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	return nil
}
