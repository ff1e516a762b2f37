package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"invoice-ingest/internal/database"
)

func TestGetMonitorReportsIngestionRuns(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	monitor := &database.Monitor{
		UserID:       1,
		EmailAddress: "invoices@example.com",
		IMAPHost:     "imap.example.com",
		AuthMethod:   "password",
		Active:       true,
	}
	if err := db.Monitors.Create(monitor); err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}

	// One run from this monitor's checks, one direct upload that must not
	// count toward it.
	if err := db.Ingestion.CreateRun(&database.IngestionRun{
		RunID: fmt.Sprintf("email-%d-abc123", monitor.ID), UserID: 1, FileSize: 10,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.Ingestion.CreateRun(&database.IngestionRun{
		RunID: "upload-1700000000000-ffff", UserID: 1, FileSize: 10,
	}); err != nil {
		t.Fatal(err)
	}

	h := NewMonitorHandler(db, nil, nil)
	r := chi.NewRouter()
	r.Get("/api/monitors/{id}", h.GetMonitor)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/monitors/%d", monitor.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		ID            int64 `json:"id"`
		IngestionRuns int   `json:"ingestion_runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.ID != monitor.ID {
		t.Errorf("Expected monitor id %d, got %d", monitor.ID, body.ID)
	}
	if body.IngestionRuns != 1 {
		t.Errorf("Expected 1 ingestion run, got %d", body.IngestionRuns)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitors/9999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown monitor, got %d", rec.Code)
	}
}
