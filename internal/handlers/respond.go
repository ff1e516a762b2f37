// Package handlers implements the HTTP API: monitor checks, diagnostics,
// history readers, direct uploads and backup operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"invoice-ingest/internal/workers"
)

// failureEnvelope is the structured error body every endpoint returns.
type failureEnvelope struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeFailure(w http.ResponseWriter, code, message string) {
	writeJSON(w, statusForCode(code), failureEnvelope{OK: false, Code: code, Message: message})
}

// writeError maps engine failures onto HTTP statuses; anything that is not
// a structured CheckError becomes a ProcessingError.
func writeError(w http.ResponseWriter, err error) {
	var ce *workers.CheckError
	if errors.As(err, &ce) {
		writeFailure(w, ce.Code, ce.Message)
		return
	}
	writeFailure(w, workers.CodeProcessingError, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case workers.CodeNotFound:
		return http.StatusNotFound
	case workers.CodeInactive, workers.CodeInvalidInput:
		return http.StatusBadRequest
	case workers.CodeLocked:
		return http.StatusConflict
	case workers.CodeAuthFailed:
		return http.StatusUnauthorized
	case workers.CodeUnreachable:
		return http.StatusBadGateway
	case workers.CodeFeatureDisabled:
		return http.StatusForbidden
	case workers.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
