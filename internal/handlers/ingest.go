package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"invoice-ingest/internal/database"
	"invoice-ingest/internal/trace"
	"invoice-ingest/internal/workers"
)

// IngestHandler handles direct uploads and ingestion run readers
type IngestHandler struct {
	uploads   *workers.UploadWorker
	ingestion *database.IngestionStore
	tracer    *trace.Collector
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(db *database.DB, uploads *workers.UploadWorker, tracer *trace.Collector) *IngestHandler {
	return &IngestHandler{
		uploads:   uploads,
		ingestion: database.NewIngestionStore(db.DB),
		tracer:    tracer,
	}
}

// uploadRequest is the JSON body for POST /api/ingest/upload. Multipart
// form uploads are accepted too.
type uploadRequest struct {
	UserID      int64  `json:"user_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Base64      string `json:"base64"`
}

// Upload handles POST /api/ingest/upload
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeUpload(r)
	if err != nil {
		writeFailure(w, workers.CodeInvalidInput, err.Error())
		return
	}
	result, err := h.uploads.Ingest(r.Context(), *req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *IngestHandler) decodeUpload(r *http.Request) (*workers.UploadRequest, error) {
	contentType := r.Header.Get("Content-Type")

	if len(contentType) >= 19 && contentType[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		return &workers.UploadRequest{
			UserID:      1,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	var body uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(body.Base64)
	if err != nil {
		return nil, err
	}
	userID := body.UserID
	if userID == 0 {
		userID = 1
	}
	return &workers.UploadRequest{
		UserID:      userID,
		Filename:    body.Filename,
		ContentType: body.ContentType,
		Data:        data,
	}, nil
}

// GetRun handles GET /api/ingest/runs/{id}
func (h *IngestHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := h.ingestion.GetRun(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeFailure(w, workers.CodeNotFound, "ingestion run not found")
		return
	}
	items, err := h.ingestion.ListItems(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []database.InvoiceItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":   run,
		"items": items,
	})
}

// GetTrace handles GET /api/ingest/runs/{id}/trace
func (h *IngestHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if t := h.tracer.Get(runID); t != nil {
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeFailure(w, workers.CodeNotFound, "no trace for run")
}
