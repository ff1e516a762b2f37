package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"invoice-ingest/internal/backup"
	"invoice-ingest/internal/database"
	"invoice-ingest/internal/workers"
)

// Client is the HTTP client for the ingestion API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError mirrors the server's failure envelope.
type apiError struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HealthCheck verifies the server is reachable.
func (c *Client) HealthCheck() error {
	return c.do("GET", "/api/health", nil, nil)
}

// ListMonitors returns all monitors.
func (c *Client) ListMonitors() ([]database.Monitor, error) {
	var monitors []database.Monitor
	err := c.do("GET", "/api/monitors", nil, &monitors)
	return monitors, err
}

// GetMonitor returns one monitor.
func (c *Client) GetMonitor(id int64) (*database.Monitor, error) {
	var monitor database.Monitor
	err := c.do("GET", fmt.Sprintf("/api/monitors/%d", id), nil, &monitor)
	return &monitor, err
}

// CheckMonitor triggers a manual check.
func (c *Client) CheckMonitor(id int64, sinceDays, limit int, folder string) (*workers.CheckResult, error) {
	query := url.Values{}
	if sinceDays > 0 {
		query.Set("since_days", strconv.Itoa(sinceDays))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if folder != "" {
		query.Set("folder", folder)
	}
	path := fmt.Sprintf("/api/monitors/%d/check", id)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var result workers.CheckResult
	err := c.do("POST", path, nil, &result)
	return &result, err
}

// DiagnoseMonitor runs the read-only diagnostic.
func (c *Client) DiagnoseMonitor(id int64, bypassKeywords, bypassDedupe bool) (*workers.Diagnostic, error) {
	query := url.Values{}
	if bypassKeywords {
		query.Set("bypass_keywords", "true")
	}
	if bypassDedupe {
		query.Set("bypass_dedupe", "true")
	}
	path := fmt.Sprintf("/api/monitors/%d/diagnose", id)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var diag workers.Diagnostic
	err := c.do("GET", path, nil, &diag)
	return &diag, err
}

// ListCheckRuns returns recent runs for a monitor.
func (c *Client) ListCheckRuns(monitorID int64, limit int) ([]database.CheckRun, error) {
	var runs []database.CheckRun
	err := c.do("GET", fmt.Sprintf("/api/monitors/%d/runs?limit=%d", monitorID, limit), nil, &runs)
	return runs, err
}

// ListProcessingLogs returns per-message outcomes for a run.
func (c *Client) ListProcessingLogs(runUUID string, limit int) ([]database.ProcessingLogEntry, error) {
	var logs []database.ProcessingLogEntry
	err := c.do("GET", fmt.Sprintf("/api/runs/%s/logs?limit=%d", runUUID, limit), nil, &logs)
	return logs, err
}

// Upload posts a document for direct ingestion.
func (c *Client) Upload(filename, contentType string, data []byte) (*workers.UploadResult, error) {
	body := map[string]string{
		"filename":     filename,
		"content_type": contentType,
		"base64":       base64.StdEncoding.EncodeToString(data),
	}
	var result workers.UploadResult
	err := c.do("POST", "/api/ingest/upload", body, &result)
	return &result, err
}

// ListBackups returns known snapshots.
func (c *Client) ListBackups() ([]backup.Snapshot, error) {
	var snapshots []backup.Snapshot
	err := c.do("GET", "/api/backups", nil, &snapshots)
	return snapshots, err
}

// CreateBackup takes a snapshot now.
func (c *Client) CreateBackup() (*backup.Snapshot, error) {
	var snapshot backup.Snapshot
	err := c.do("POST", "/api/backups", nil, &snapshot)
	return &snapshot, err
}

// RestoreBackup restores a named snapshot.
func (c *Client) RestoreBackup(name string) (*backup.RestoreResult, error) {
	var result backup.RestoreResult
	err := c.do("POST", "/api/backups/restore", map[string]string{"name": name}, &result)
	return &result, err
}

// BackupStats summarizes the backup directory.
func (c *Client) BackupStats() (*backup.Stats, error) {
	var stats backup.Stats
	err := c.do("GET", "/api/backups/stats", nil, &stats)
	return &stats, err
}
