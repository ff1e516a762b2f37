package database

import (
	"strconv"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestMonitor(t *testing.T, db *DB) *Monitor {
	t.Helper()
	m := &Monitor{
		UserID:       1,
		EmailAddress: "invoices@example.com",
		IMAPHost:     "imap.example.com",
		AuthMethod:   "password",
		Active:       true,
	}
	if err := db.Monitors.Create(m); err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}
	return m
}

func TestAdminUserSeeded(t *testing.T) {
	db := openTestDB(t)

	admin, err := db.Users.GetByID(1)
	if err != nil {
		t.Fatalf("Failed to load admin user: %v", err)
	}
	if admin == nil {
		t.Fatal("Expected seeded admin user with id 1")
	}
	if admin.Role != "admin" {
		t.Errorf("Expected admin role, got %q", admin.Role)
	}
}

func TestOwnershipTriggerRejectsNullUser(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`
		INSERT INTO email_monitors (user_id, email_address, folder, imap_host, imap_port, auth_method)
		VALUES (NULL, 'x@example.com', 'inbox', 'imap.example.com', 993, 'password')`)
	if err == nil {
		t.Fatal("Expected trigger to reject monitor insert with NULL user_id")
	}

	_, err = db.Exec(`
		INSERT INTO ingestion_runs (run_id, user_id, status) VALUES ('upload-1-abc', NULL, 'processing')`)
	if err == nil {
		t.Fatal("Expected trigger to reject ingestion run insert with NULL user_id")
	}

	m := createTestMonitor(t, db)
	_, err = db.Exec("UPDATE email_monitors SET user_id = NULL WHERE id = ?", m.ID)
	if err == nil {
		t.Fatal("Expected trigger to reject user_id update to NULL")
	}
}

func TestMonitorCascadeDelete(t *testing.T) {
	db := openTestDB(t)
	m := createTestMonitor(t, db)

	run := &CheckRun{RunUUID: "uuid-cascade", MonitorID: m.ID, Trigger: "manual"}
	if err := db.CheckRuns.Create(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	entry := &ProcessingLogEntry{
		MonitorID: m.ID, CheckRunUUID: run.RunUUID,
		UIDValidity: 1, UID: 10, Status: LogStatusDBOK,
	}
	if err := db.ProcessingLog.Insert(entry); err != nil {
		t.Fatalf("Failed to insert log entry: %v", err)
	}

	if err := db.Monitors.Delete(m.ID); err != nil {
		t.Fatalf("Failed to delete monitor: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM email_check_runs WHERE monitor_id = ?", m.ID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected check runs to cascade, found %d", count)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM email_processing_log WHERE monitor_id = ?", m.ID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected processing log to cascade, found %d", count)
	}
}

func TestRecordCheckOutcomeCounters(t *testing.T) {
	db := openTestDB(t)
	m := createTestMonitor(t, db)

	// No invoices created: counters stay, last_checked_at moves.
	if err := db.Monitors.RecordCheckOutcome(m.ID, 3, 0, ""); err != nil {
		t.Fatalf("RecordCheckOutcome failed: %v", err)
	}
	got, _ := db.Monitors.GetByID(m.ID)
	if got.EmailsProcessedCount != 0 || got.InvoicesCreatedCount != 0 {
		t.Errorf("Counters advanced without invoices: %d/%d", got.EmailsProcessedCount, got.InvoicesCreatedCount)
	}
	if got.LastCheckedAt == nil {
		t.Error("Expected last_checked_at to be set")
	}

	// Invoices created: both counters advance.
	if err := db.Monitors.RecordCheckOutcome(m.ID, 2, 2, ""); err != nil {
		t.Fatalf("RecordCheckOutcome failed: %v", err)
	}
	got, _ = db.Monitors.GetByID(m.ID)
	if got.EmailsProcessedCount != 2 || got.InvoicesCreatedCount != 2 {
		t.Errorf("Expected counters 2/2, got %d/%d", got.EmailsProcessedCount, got.InvoicesCreatedCount)
	}

	// Run-level failure sets last_error; a later success clears it.
	if err := db.Monitors.RecordCheckOutcome(m.ID, 0, 0, "connect failed"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.Monitors.GetByID(m.ID)
	if got.LastError != "connect failed" {
		t.Errorf("Expected last_error set, got %q", got.LastError)
	}
	if err := db.Monitors.RecordCheckOutcome(m.ID, 0, 0, ""); err != nil {
		t.Fatal(err)
	}
	got, _ = db.Monitors.GetByID(m.ID)
	if got.LastError != "" {
		t.Errorf("Expected last_error cleared, got %q", got.LastError)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := createTestMonitor(t, db)

	run := &CheckRun{RunUUID: "uuid-final", MonitorID: m.ID, Trigger: "manual"}
	if err := db.CheckRuns.Create(run); err != nil {
		t.Fatal(err)
	}

	run.Status = RunStatusSuccess
	run.LastStage = StageComplete
	run.EmailsProcessed = 5
	if err := db.CheckRuns.Finalize(run, map[string]int64{"fetch": 12}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	// A second finalize must not overwrite the terminal state.
	run.Status = RunStatusError
	run.EmailsProcessed = 99
	if err := db.CheckRuns.Finalize(run, nil); err != nil {
		t.Fatalf("Second finalize errored: %v", err)
	}

	got, err := db.CheckRuns.GetByUUID("uuid-final")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunStatusSuccess {
		t.Errorf("Finalized run was overwritten: status %q", got.Status)
	}
	if got.EmailsProcessed != 5 {
		t.Errorf("Finalized run was overwritten: processed %d", got.EmailsProcessed)
	}
	if got.StageTimings == "" {
		t.Error("Expected stage timings to be recorded")
	}
}

func TestBackfillOwnersFromRunID(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO users (id, email, name, role) VALUES (7, 'owner@example.com', 'Owner', 'manager')`)
	if err != nil {
		t.Fatal(err)
	}
	m := &Monitor{UserID: 7, EmailAddress: "a@b.c", IMAPHost: "h", AuthMethod: "password", Active: true}
	if err := db.Monitors.Create(m); err != nil {
		t.Fatal(err)
	}

	monitorID, ok := monitorIDFromRunID("email-" + strconv.FormatInt(m.ID, 10) + "-1700000000-abcd")
	if !ok || monitorID != m.ID {
		t.Fatalf("Failed to parse monitor id from run id: %d %v", monitorID, ok)
	}
	if _, ok := monitorIDFromRunID("upload-1700000000-abcd"); ok {
		t.Error("Upload run ids must not parse as email runs")
	}
}
