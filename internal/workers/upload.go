package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"invoice-ingest/internal/canonical"
	"invoice-ingest/internal/database"
	"invoice-ingest/internal/extraction"
	"invoice-ingest/internal/trace"
)

// UploadOptions configures the direct upload worker.
type UploadOptions struct {
	Enabled   bool
	MaxSizeMB int
}

// UploadRequest is one direct document upload.
type UploadRequest struct {
	UserID      int64
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult reports a completed upload ingestion.
type UploadResult struct {
	RunID             string             `json:"run_id"`
	Status            string             `json:"status"`
	VendorName        string             `json:"vendor_name,omitempty"`
	InvoiceTotalCents *int64             `json:"invoice_total_cents,omitempty"`
	ItemCount         int                `json:"item_count"`
	Confidence        float64            `json:"confidence"`
	Canonical         *canonical.Invoice `json:"canonical,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// UploadWorker ingests documents posted directly, outside any monitor.
type UploadWorker struct {
	ingestion *database.IngestionStore
	pipeline  DocumentPipeline
	builder   *canonical.Builder
	tracer    *trace.Collector
	opts      UploadOptions
	logger    *slog.Logger
}

// NewUploadWorker wires the upload path.
func NewUploadWorker(db *database.DB, pipeline DocumentPipeline, tracer *trace.Collector, opts UploadOptions, logger *slog.Logger) *UploadWorker {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadWorker{
		ingestion: database.NewIngestionStore(db.DB),
		pipeline:  pipeline,
		builder:   canonical.NewBuilder(),
		tracer:    tracer,
		opts:      opts,
		logger:    logger,
	}
}

// Ingest runs one uploaded document through the pipeline and persists the
// run with its items.
func (w *UploadWorker) Ingest(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if !w.opts.Enabled {
		return nil, checkErr(CodeFeatureDisabled, "direct uploads are disabled")
	}
	if len(req.Data) == 0 {
		return nil, checkErr(CodeInvalidInput, "empty upload")
	}
	if maxBytes := int64(w.opts.MaxSizeMB) * 1024 * 1024; int64(len(req.Data)) > maxBytes {
		return nil, checkErr(CodeFileTooLarge, "upload exceeds %d MB limit", w.opts.MaxSizeMB)
	}

	runID := newRunID("upload")
	var t *trace.Trace
	if w.tracer != nil {
		t = w.tracer.Begin(runID)
	}

	if err := w.ingestion.CreateRun(&database.IngestionRun{
		RunID:    runID,
		UserID:   req.UserID,
		FileName: req.Filename,
		FileSize: int64(len(req.Data)),
	}); err != nil {
		return nil, checkErr(CodeUploadError, "failed to create ingestion run: %v", err)
	}

	stepStarted := time.Now()
	result, err := w.pipeline.Process(ctx, extraction.Input{
		Data:        req.Data,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	})
	if err != nil || !result.OK {
		if failErr := w.ingestion.FailRun(runID); failErr != nil {
			w.logger.Error("Failed to mark upload run failed", "run_id", runID, "error", failErr)
		}
		if t != nil {
			t.Error("extraction", stepStarted, map[string]any{"filename": req.Filename, "error": fmt.Sprint(err)})
			w.tracer.Finish(t, &req.UserID)
		}
		if err == nil {
			err = fmt.Errorf("extraction produced no text for %s", req.Filename)
		}
		return nil, checkErr(CodeProcessingError, "%v", err)
	}
	if t != nil {
		t.Step("extraction", stepStarted, map[string]any{
			"filename":   req.Filename,
			"file_type":  string(result.FileType),
			"method":     result.ExtractionMethod,
			"confidence": result.Confidence,
		})
	}

	stepStarted = time.Now()
	payload := payloadFromResult(result)
	invoice, warnings := w.builder.Build(payload, canonical.BuildInput{
		SourceType:    "upload",
		ParserName:    "invoice-parser",
		ParserVersion: "1",
		SourceRef: canonical.SourceRef{
			Kind:     "upload",
			Value:    req.Filename,
			MimeType: req.ContentType,
		},
	})
	if t != nil {
		t.Step("canonical", stepStarted, map[string]any{
			"doc_id":     invoice.Doc.DocID,
			"line_items": len(invoice.LineItems),
			"warnings":   len(warnings),
		})
	}

	vendorName := ""
	if result.Parsed.Vendor != nil {
		vendorName = result.Parsed.Vendor.Name
	}
	items := toInvoiceItems(result)
	if err := w.ingestion.CompleteRun(runID, vendorName, result.Parsed.Totals.TotalCents, items); err != nil {
		return nil, checkErr(CodeUploadError, "failed to complete ingestion run: %v", err)
	}
	if t != nil {
		w.tracer.Finish(t, &req.UserID)
	}

	w.logger.Info("Upload ingested",
		"run_id", runID,
		"filename", req.Filename,
		"vendor", vendorName,
		"items", len(items),
		"confidence", result.Confidence,
	)
	return &UploadResult{
		RunID:             runID,
		Status:            database.IngestionStatusCompleted,
		VendorName:        vendorName,
		InvoiceTotalCents: result.Parsed.Totals.TotalCents,
		ItemCount:         len(items),
		Confidence:        result.Confidence,
		Canonical:         invoice,
		Warnings:          append(result.Warnings, warnings...),
	}, nil
}
