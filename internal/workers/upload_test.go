package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"invoice-ingest/internal/database"
)

func newUploadFixture(t *testing.T, pipeline DocumentPipeline, opts UploadOptions) (*UploadWorker, *database.DB) {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUploadWorker(db, pipeline, nil, opts, logger), db
}

func pdfUpload() UploadRequest {
	return UploadRequest{
		UserID:      1,
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 test"),
	}
}

func TestUploadIngestSuccess(t *testing.T) {
	pipeline := &fakePipeline{}
	worker, db := newUploadFixture(t, pipeline, UploadOptions{Enabled: true})

	result, err := worker.Ingest(context.Background(), pdfUpload())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !strings.HasPrefix(result.RunID, "upload-") {
		t.Errorf("Expected upload run id, got %q", result.RunID)
	}
	if result.Status != database.IngestionStatusCompleted {
		t.Errorf("Expected completed status, got %q", result.Status)
	}
	if result.VendorName != "Sysco Corporation" {
		t.Errorf("Expected vendor name, got %q", result.VendorName)
	}
	if result.InvoiceTotalCents == nil || *result.InvoiceTotalCents != 174885 {
		t.Error("Expected invoice total carried through")
	}
	if result.ItemCount != 1 {
		t.Errorf("Expected 1 item, got %d", result.ItemCount)
	}
	if result.Canonical == nil || result.Canonical.Doc.DocID == "" {
		t.Error("Expected a canonical invoice with a doc id")
	}

	run, err := db.Ingestion.GetRun(result.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run == nil || run.Status != database.IngestionStatusCompleted {
		t.Fatalf("Expected persisted completed run, got %+v", run)
	}
	if run.FileName != "invoice.pdf" || run.FileSize != int64(len(pdfUpload().Data)) {
		t.Errorf("Run metadata mismatch: %+v", run)
	}
	items, err := db.Ingestion.ListItems(result.RunID)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 1 || items[0].Description != "CHICKEN BREAST" {
		t.Errorf("Expected persisted items, got %+v", items)
	}
}

func TestUploadIngestDisabled(t *testing.T) {
	pipeline := &fakePipeline{}
	worker, _ := newUploadFixture(t, pipeline, UploadOptions{Enabled: false})

	_, err := worker.Ingest(context.Background(), pdfUpload())
	var ce *CheckError
	if !errors.As(err, &ce) || ce.Code != CodeFeatureDisabled {
		t.Fatalf("Expected FeatureDisabled, got %v", err)
	}
	if pipeline.calls != 0 {
		t.Error("Pipeline must not run when uploads are disabled")
	}
}

func TestUploadIngestEmptyData(t *testing.T) {
	worker, _ := newUploadFixture(t, &fakePipeline{}, UploadOptions{Enabled: true})

	_, err := worker.Ingest(context.Background(), UploadRequest{UserID: 1, Filename: "empty.pdf"})
	var ce *CheckError
	if !errors.As(err, &ce) || ce.Code != CodeInvalidInput {
		t.Fatalf("Expected InvalidInput, got %v", err)
	}
}

func TestUploadIngestFileTooLarge(t *testing.T) {
	pipeline := &fakePipeline{}
	worker, _ := newUploadFixture(t, pipeline, UploadOptions{Enabled: true, MaxSizeMB: 1})

	req := pdfUpload()
	req.Data = make([]byte, 1024*1024+1)
	_, err := worker.Ingest(context.Background(), req)
	var ce *CheckError
	if !errors.As(err, &ce) || ce.Code != CodeFileTooLarge {
		t.Fatalf("Expected FileTooLarge, got %v", err)
	}
	if pipeline.calls != 0 {
		t.Error("Pipeline must not run on oversized uploads")
	}
}

func TestUploadIngestPipelineFailureMarksRunFailed(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("unreadable scan")}
	worker, db := newUploadFixture(t, pipeline, UploadOptions{Enabled: true})

	_, err := worker.Ingest(context.Background(), pdfUpload())
	var ce *CheckError
	if !errors.As(err, &ce) || ce.Code != CodeProcessingError {
		t.Fatalf("Expected ProcessingError, got %v", err)
	}

	var status string
	if err := db.DB.QueryRow(
		"SELECT status FROM ingestion_runs WHERE run_id LIKE 'upload-%'",
	).Scan(&status); err != nil {
		t.Fatalf("Expected a recorded run: %v", err)
	}
	if status != database.IngestionStatusFailed {
		t.Errorf("Expected failed run, got %q", status)
	}
}
