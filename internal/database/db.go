package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection and provides access to stores
type DB struct {
	*sql.DB
	Path          string
	Users         *UserStore
	Monitors      *MonitorStore
	CheckRuns     *CheckRunStore
	ProcessingLog *ProcessingLogStore
	Locks         *LockStore
	Ingestion     *IngestionStore
	Traces        *TraceStore
}

// Open opens a database connection and initializes stores
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable foreign key constraints in SQLite
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set reasonable timeouts
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Create the wrapper
	database := &DB{
		DB:            db,
		Path:          dbPath,
		Users:         NewUserStore(db),
		Monitors:      NewMonitorStore(db),
		CheckRuns:     NewCheckRunStore(db),
		ProcessingLog: NewProcessingLogStore(db),
		Locks:         NewLockStore(db),
		Ingestion:     NewIngestionStore(db),
		Traces:        NewTraceStore(db),
	}

	// Run migrations
	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'viewer',
		account_name TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		failed_login_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until DATETIME,
		last_login_at DATETIME,
		last_login_ip TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS email_monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER REFERENCES users(id),
		email_address TEXT NOT NULL,
		folder TEXT NOT NULL DEFAULT 'inbox',
		imap_host TEXT NOT NULL DEFAULT '',
		imap_port INTEGER NOT NULL DEFAULT 993,
		auth_method TEXT NOT NULL DEFAULT 'password',
		encrypted_password TEXT,
		oauth_client_id TEXT,
		oauth_client_secret TEXT,
		oauth_refresh_token TEXT,
		oauth_access_token TEXT,
		oauth_token_expiry DATETIME,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		require_invoice_keywords BOOLEAN NOT NULL DEFAULT FALSE,
		emails_processed_count INTEGER NOT NULL DEFAULT 0,
		invoices_created_count INTEGER NOT NULL DEFAULT 0,
		last_checked_at DATETIME,
		last_error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS email_check_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_uuid TEXT NOT NULL UNIQUE,
		monitor_id INTEGER NOT NULL REFERENCES email_monitors(id) ON DELETE CASCADE,
		trigger_source TEXT NOT NULL DEFAULT 'manual',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL DEFAULT 'started',
		last_stage TEXT NOT NULL DEFAULT 'init',
		folder TEXT,
		uidvalidity INTEGER NOT NULL DEFAULT 0,
		search_query TEXT,
		found INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		attachments_total INTEGER NOT NULL DEFAULT 0,
		attachments_supported INTEGER NOT NULL DEFAULT 0,
		emails_skipped INTEGER NOT NULL DEFAULT 0,
		emails_processed INTEGER NOT NULL DEFAULT 0,
		invoices_created INTEGER NOT NULL DEFAULT 0,
		errors_count INTEGER NOT NULL DEFAULT 0,
		stage_timings TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS email_processing_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL REFERENCES email_monitors(id) ON DELETE CASCADE,
		check_run_uuid TEXT NOT NULL,
		uidvalidity INTEGER NOT NULL DEFAULT 0,
		uid INTEGER NOT NULL DEFAULT 0,
		message_id TEXT,
		subject TEXT,
		from_address TEXT,
		received_date DATETIME,
		status TEXT NOT NULL,
		skip_reason TEXT,
		attachment_count INTEGER NOT NULL DEFAULT 0,
		supported_count INTEGER NOT NULL DEFAULT 0,
		mime_types TEXT,
		filenames TEXT,
		invoices_created INTEGER NOT NULL DEFAULT 0,
		processing_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS email_monitor_locks (
		monitor_id INTEGER PRIMARY KEY,
		locked_by TEXT NOT NULL,
		locked_at DATETIME NOT NULL,
		lock_expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ingestion_runs (
		run_id TEXT PRIMARY KEY,
		user_id INTEGER REFERENCES users(id),
		account_name TEXT,
		vendor_name TEXT,
		file_name TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'processing',
		invoice_total_cents INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS invoice_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES ingestion_runs(run_id) ON DELETE CASCADE,
		description TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 1,
		unit_price_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL DEFAULT 0,
		category TEXT
	);

	CREATE TABLE IF NOT EXISTS parse_traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		user_id INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		step_count INTEGER NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		trace_json TEXT,
		summary_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_monitors_user ON email_monitors(user_id);
	CREATE INDEX IF NOT EXISTS idx_check_runs_monitor ON email_check_runs(monitor_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_processing_log_uid ON email_processing_log(monitor_id, uidvalidity, uid);
	CREATE INDEX IF NOT EXISTS idx_processing_log_message_id ON email_processing_log(monitor_id, message_id);
	CREATE INDEX IF NOT EXISTS idx_processing_log_run ON email_processing_log(check_run_uuid);
	CREATE INDEX IF NOT EXISTS idx_ingestion_runs_user ON ingestion_runs(user_id);
	CREATE INDEX IF NOT EXISTS idx_invoice_items_run ON invoice_items(run_id);
	CREATE INDEX IF NOT EXISTS idx_monitor_locks_expiry ON email_monitor_locks(lock_expires_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Seed the admin user used as the fallback owner
	if err := db.seedAdminUser(); err != nil {
		return err
	}

	// Adopt orphaned rows before the ownership triggers come into force
	if err := db.backfillOwners(); err != nil {
		return err
	}

	return db.createTriggers()
}

// seedAdminUser inserts the admin account if no users exist yet. The admin
// is the fallback owner for backfilled rows (user 1).
func (db *DB) seedAdminUser() error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err := db.Exec(
		`INSERT INTO users (id, email, name, role, is_active, is_email_verified) VALUES (1, 'admin@localhost', 'Administrator', 'admin', TRUE, TRUE)`,
	)
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	return nil
}

// backfillOwners assigns owners to rows that predate ownership enforcement.
// Ingestion runs with an email-<monitorID>-... run id adopt the monitor's
// owner; everything else falls back to the admin user.
func (db *DB) backfillOwners() error {
	rows, err := db.Query("SELECT run_id FROM ingestion_runs WHERE user_id IS NULL")
	if err != nil {
		return fmt.Errorf("failed to query orphaned ingestion runs: %w", err)
	}
	var orphans []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan orphaned run id: %w", err)
		}
		orphans = append(orphans, runID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("orphan iteration error: %w", err)
	}

	for _, runID := range orphans {
		owner := int64(1)
		if monitorID, ok := monitorIDFromRunID(runID); ok {
			var userID sql.NullInt64
			err := db.QueryRow("SELECT user_id FROM email_monitors WHERE id = ?", monitorID).Scan(&userID)
			if err == nil && userID.Valid {
				owner = userID.Int64
			}
		}
		if _, err := db.Exec("UPDATE ingestion_runs SET user_id = ? WHERE run_id = ?", owner, runID); err != nil {
			return fmt.Errorf("failed to backfill ingestion run %s: %w", runID, err)
		}
	}

	if _, err := db.Exec("UPDATE email_monitors SET user_id = 1 WHERE user_id IS NULL"); err != nil {
		return fmt.Errorf("failed to backfill monitor owners: %w", err)
	}

	return nil
}

// monitorIDFromRunID parses the monitor id out of an email-<monitorID>-...
// ingestion run id.
func monitorIDFromRunID(runID string) (int64, bool) {
	if !strings.HasPrefix(runID, "email-") {
		return 0, false
	}
	rest := strings.TrimPrefix(runID, "email-")
	idx := strings.Index(rest, "-")
	if idx <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(rest[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// createTriggers installs the ownership and updated_at triggers. Ownership
// is enforced by trigger rather than NOT NULL so that legacy rows can be
// backfilled before enforcement begins.
func (db *DB) createTriggers() error {
	triggers := `
	CREATE TRIGGER IF NOT EXISTS trg_ingestion_runs_owner_insert
		BEFORE INSERT ON ingestion_runs
		WHEN NEW.user_id IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'ingestion_runs.user_id must not be null');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_ingestion_runs_owner_update
		BEFORE UPDATE ON ingestion_runs
		WHEN NEW.user_id IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'ingestion_runs.user_id must not be null');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_email_monitors_owner_insert
		BEFORE INSERT ON email_monitors
		WHEN NEW.user_id IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'email_monitors.user_id must not be null');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_email_monitors_owner_update
		BEFORE UPDATE ON email_monitors
		WHEN NEW.user_id IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'email_monitors.user_id must not be null');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_email_monitors_updated_at
		AFTER UPDATE ON email_monitors
	BEGIN
		UPDATE email_monitors SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;

	CREATE TRIGGER IF NOT EXISTS trg_ingestion_runs_updated_at
		AFTER UPDATE ON ingestion_runs
	BEGIN
		UPDATE ingestion_runs SET updated_at = CURRENT_TIMESTAMP WHERE run_id = NEW.run_id;
	END;
	`

	if _, err := db.Exec(triggers); err != nil {
		return fmt.Errorf("failed to create triggers: %w", err)
	}
	return nil
}

// IsHealthy checks if the database connection is healthy
func (db *DB) IsHealthy() error {
	return db.Ping()
}
