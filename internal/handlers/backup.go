package handlers

import (
	"encoding/json"
	"net/http"

	"invoice-ingest/internal/backup"
	"invoice-ingest/internal/workers"
)

// BackupHandler handles backup operations
type BackupHandler struct {
	supervisor *backup.Supervisor
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(supervisor *backup.Supervisor) *BackupHandler {
	return &BackupHandler{supervisor: supervisor}
}

// CreateSnapshot handles POST /api/backups
func (h *BackupHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.supervisor.CreateSnapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

// ListSnapshots handles GET /api/backups
func (h *BackupHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.supervisor.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if snapshots == nil {
		snapshots = []backup.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// restoreRequest names the snapshot to restore.
type restoreRequest struct {
	Name string `json:"name"`
}

// Restore handles POST /api/backups/restore
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeFailure(w, workers.CodeInvalidInput, "backup name is required")
		return
	}
	result, err := h.supervisor.Restore(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stats handles GET /api/backups/stats
func (h *BackupHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.supervisor.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cleanup handles POST /api/backups/cleanup
func (h *BackupHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.supervisor.Cleanup()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
