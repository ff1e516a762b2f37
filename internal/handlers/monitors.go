package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"invoice-ingest/internal/database"
	"invoice-ingest/internal/email"
	"invoice-ingest/internal/workers"
)

// MonitorHandler handles monitor CRUD and check operations
type MonitorHandler struct {
	monitors  *database.MonitorStore
	ingestion *database.IngestionStore
	engine    *workers.CheckEngine
	cipher    *email.Cipher
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(db *database.DB, engine *workers.CheckEngine, cipher *email.Cipher) *MonitorHandler {
	return &MonitorHandler{
		monitors:  database.NewMonitorStore(db.DB),
		ingestion: database.NewIngestionStore(db.DB),
		engine:    engine,
		cipher:    cipher,
	}
}

// CreateMonitorRequest is the POST /api/monitors body. The password
// arrives in clear over TLS and is encrypted before it touches the store.
type CreateMonitorRequest struct {
	UserID                 int64  `json:"user_id"`
	EmailAddress           string `json:"email_address"`
	Folder                 string `json:"folder"`
	IMAPHost               string `json:"imap_host"`
	IMAPPort               int    `json:"imap_port"`
	AuthMethod             string `json:"auth_method"`
	Password               string `json:"password,omitempty"`
	OAuthClientID          string `json:"oauth_client_id,omitempty"`
	OAuthClientSecret      string `json:"oauth_client_secret,omitempty"`
	OAuthRefreshToken      string `json:"oauth_refresh_token,omitempty"`
	Active                 bool   `json:"active"`
	RequireInvoiceKeywords bool   `json:"require_invoice_keywords"`
}

// CreateMonitor handles POST /api/monitors
func (h *MonitorHandler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, workers.CodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	if req.EmailAddress == "" || req.IMAPHost == "" {
		writeFailure(w, workers.CodeInvalidInput, "email_address and imap_host are required")
		return
	}
	if req.AuthMethod == "" {
		req.AuthMethod = "password"
	}

	monitor := &database.Monitor{
		UserID:                 req.UserID,
		EmailAddress:           req.EmailAddress,
		Folder:                 req.Folder,
		IMAPHost:               req.IMAPHost,
		IMAPPort:               req.IMAPPort,
		AuthMethod:             req.AuthMethod,
		OAuthClientID:          req.OAuthClientID,
		OAuthClientSecret:      req.OAuthClientSecret,
		OAuthRefreshToken:      req.OAuthRefreshToken,
		Active:                 req.Active,
		RequireInvoiceKeywords: req.RequireInvoiceKeywords,
	}
	if req.Password != "" {
		if h.cipher == nil {
			writeFailure(w, workers.CodeInvalidInput, "password auth requires an encryption key")
			return
		}
		encrypted, err := h.cipher.Encrypt(req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		monitor.EncryptedPassword = encrypted
	}

	if err := h.monitors.Create(monitor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, monitor)
}

// ListMonitors handles GET /api/monitors
func (h *MonitorHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.monitors.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if monitors == nil {
		monitors = []database.Monitor{}
	}
	writeJSON(w, http.StatusOK, monitors)
}

// monitorDetail is the GET /api/monitors/{id} response: the monitor plus
// how many invoice ingestion runs its checks have produced.
type monitorDetail struct {
	*database.Monitor
	IngestionRuns int `json:"ingestion_runs"`
}

// GetMonitor handles GET /api/monitors/{id}
func (h *MonitorHandler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.monitorID(w, r)
	if !ok {
		return
	}
	monitor, err := h.monitors.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if monitor == nil {
		writeFailure(w, workers.CodeNotFound, "monitor not found")
		return
	}
	runCount, err := h.ingestion.CountRunsByPrefix(fmt.Sprintf("email-%d-", id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, monitorDetail{Monitor: monitor, IngestionRuns: runCount})
}

// DeleteMonitor handles DELETE /api/monitors/{id}
func (h *MonitorHandler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.monitorID(w, r)
	if !ok {
		return
	}
	if err := h.monitors.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckMonitor handles POST /api/monitors/{id}/check
func (h *MonitorHandler) CheckMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.monitorID(w, r)
	if !ok {
		return
	}
	opts := workers.CheckOptions{
		SinceDays: queryInt(r, "since_days"),
		Limit:     queryInt(r, "limit"),
		Folder:    r.URL.Query().Get("folder"),
	}
	result, err := h.engine.Check(r.Context(), id, "manual", opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DiagnoseMonitor handles GET /api/monitors/{id}/diagnose
func (h *MonitorHandler) DiagnoseMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.monitorID(w, r)
	if !ok {
		return
	}
	opts := workers.DiagnoseOptions{
		SinceDays:      queryInt(r, "since_days"),
		Limit:          queryInt(r, "limit"),
		Folder:         r.URL.Query().Get("folder"),
		BypassKeywords: r.URL.Query().Get("bypass_keywords") == "true",
		BypassDedupe:   r.URL.Query().Get("bypass_dedupe") == "true",
	}
	diag, err := h.engine.Diagnose(r.Context(), id, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

// ListCheckRuns handles GET /api/monitors/{id}/runs
func (h *MonitorHandler) ListCheckRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.monitorID(w, r)
	if !ok {
		return
	}
	runs, err := h.engine.ListCheckRuns(id, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []database.CheckRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListProcessingLogs handles GET /api/monitors/{id}/logs and
// GET /api/runs/{uuid}/logs.
func (h *MonitorHandler) ListProcessingLogs(w http.ResponseWriter, r *http.Request) {
	runUUID := chi.URLParam(r, "uuid")
	var monitorID int64
	if runUUID == "" {
		id, ok := h.monitorID(w, r)
		if !ok {
			return
		}
		monitorID = id
	}
	logs, err := h.engine.ListProcessingLogs(runUUID, monitorID, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []database.ProcessingLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *MonitorHandler) monitorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeFailure(w, workers.CodeInvalidInput, "invalid monitor id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}
