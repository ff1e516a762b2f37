// Package workers hosts the background engines: the email check engine,
// its scheduler, and the direct upload worker.
package workers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"invoice-ingest/internal/canonical"
	"invoice-ingest/internal/database"
	"invoice-ingest/internal/email"
	"invoice-ingest/internal/extraction"
	"invoice-ingest/internal/trace"
)

// Failure codes returned across the engine boundary.
const (
	CodeNotFound        = "NotFound"
	CodeInactive        = "Inactive"
	CodeLocked          = "Locked"
	CodeAuthFailed      = "AuthFailed"
	CodeUnreachable     = "Unreachable"
	CodeInvalidInput    = "InvalidInput"
	CodeProcessingError = "ProcessingError"
	CodeFeatureDisabled = "FeatureDisabled"
	CodeFileTooLarge    = "FileTooLarge"
	CodeUploadError     = "UploadError"
)

// CheckError is a structured engine failure.
type CheckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func checkErr(code, format string, args ...any) *CheckError {
	return &CheckError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CheckOptions tunes one check invocation.
type CheckOptions struct {
	SinceDays int    // default 7
	Limit     int    // default 50, max messages fetched per run
	Folder    string // override the monitor's folder
}

func (o *CheckOptions) applyDefaults() {
	if o.SinceDays <= 0 {
		o.SinceDays = 7
	}
	if o.Limit <= 0 {
		o.Limit = 50
	}
}

// EmailDetail is the per-message outcome surfaced to callers.
type EmailDetail struct {
	UID             uint32 `json:"uid"`
	MessageID       string `json:"message_id,omitempty"`
	Subject         string `json:"subject"`
	From            string `json:"from"`
	Status          string `json:"status"`
	SkipReason      string `json:"skip_reason,omitempty"`
	AttachmentCount int    `json:"attachment_count"`
	SupportedCount  int    `json:"supported_count"`
	InvoicesCreated int    `json:"invoices_created"`
	Error           string `json:"error,omitempty"`
}

// CheckResult is the run summary returned by Check.
type CheckResult struct {
	RunUUID         string        `json:"run_uuid"`
	Stage           string        `json:"stage"`
	Success         bool          `json:"success"`
	Status          string        `json:"status"`
	Found           int           `json:"found"`
	Fetched         int           `json:"fetched"`
	Processed       int           `json:"processed"`
	Skipped         int           `json:"skipped"`
	InvoicesCreated int           `json:"invoices_created"`
	Errors          int           `json:"errors"`
	EmailDetails    []EmailDetail `json:"email_details"`
	TotalTimeMs     int64         `json:"total_time_ms"`
	Error           string        `json:"error,omitempty"`
}

// DocumentPipeline abstracts the extraction pipeline for testing.
type DocumentPipeline interface {
	Process(ctx context.Context, input extraction.Input) (*extraction.Result, error)
}

// DialFunc opens a mailbox connection; swapped for a fake in tests.
type DialFunc func(config *email.ClientConfig) (email.MailClient, error)

// CheckEngine runs email checks against monitors: lock, connect, search,
// fetch, gate, extract, persist.
type CheckEngine struct {
	monitors  *database.MonitorStore
	runs      *database.CheckRunStore
	logs      *database.ProcessingLogStore
	locks     *database.LockStore
	ingestion *database.IngestionStore

	pipeline DocumentPipeline
	builder  *canonical.Builder
	cipher   *email.Cipher
	dial     DialFunc
	tracer   *trace.Collector
	logger   *slog.Logger

	// inProcess serializes checks per monitor inside one process; the lock
	// table covers multiple processes.
	inProcessMu sync.Mutex
	inProcess   map[int64]*sync.Mutex
}

// NewCheckEngine wires the engine. A nil dial uses the production IMAP
// client.
func NewCheckEngine(
	db *database.DB,
	pipeline DocumentPipeline,
	cipher *email.Cipher,
	tracer *trace.Collector,
	dial DialFunc,
	logger *slog.Logger,
) *CheckEngine {
	if dial == nil {
		dial = func(config *email.ClientConfig) (email.MailClient, error) {
			return email.Connect(config)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckEngine{
		monitors:  database.NewMonitorStore(db.DB),
		runs:      database.NewCheckRunStore(db.DB),
		logs:      database.NewProcessingLogStore(db.DB),
		locks:     database.NewLockStore(db.DB),
		ingestion: database.NewIngestionStore(db.DB),
		pipeline:  pipeline,
		builder:   canonical.NewBuilder(),
		cipher:    cipher,
		dial:      dial,
		tracer:    tracer,
		logger:    logger,
		inProcess: make(map[int64]*sync.Mutex),
	}
}

func (e *CheckEngine) monitorMutex(monitorID int64) *sync.Mutex {
	e.inProcessMu.Lock()
	defer e.inProcessMu.Unlock()
	mu, ok := e.inProcess[monitorID]
	if !ok {
		mu = &sync.Mutex{}
		e.inProcess[monitorID] = mu
	}
	return mu
}

// Check executes one run against a monitor. It returns a CheckResult on
// normal completion (including partial and error finalization) and a
// CheckError only for pre-run failures like a missing monitor or a held
// lock.
func (e *CheckEngine) Check(ctx context.Context, monitorID int64, trigger string, opts CheckOptions) (*CheckResult, error) {
	opts.applyDefaults()
	started := time.Now()

	monitor, err := e.monitors.GetByID(monitorID)
	if err != nil {
		return nil, checkErr(CodeProcessingError, "failed to load monitor %d: %v", monitorID, err)
	}
	if monitor == nil {
		return nil, checkErr(CodeNotFound, "monitor %d does not exist", monitorID)
	}
	if !monitor.Active {
		return nil, checkErr(CodeInactive, "monitor %d is disabled", monitorID)
	}

	mu := e.monitorMutex(monitorID)
	mu.Lock()
	defer mu.Unlock()

	owner := uuid.New().String()
	if err := e.locks.Acquire(monitorID, owner, database.DefaultLockTTL); err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			return nil, checkErr(CodeLocked, "monitor %d is being checked by another run", monitorID)
		}
		return nil, checkErr(CodeProcessingError, "failed to lock monitor %d: %v", monitorID, err)
	}
	defer func() {
		if err := e.locks.Release(monitorID, owner); err != nil {
			e.logger.Error("Failed to release monitor lock", "monitor_id", monitorID, "error", err)
		}
	}()

	run := &database.CheckRun{
		RunUUID:   uuid.New().String(),
		MonitorID: monitorID,
		Trigger:   trigger,
	}
	if err := e.runs.Create(run); err != nil {
		return nil, checkErr(CodeProcessingError, "failed to create check run: %v", err)
	}

	result := e.execute(ctx, monitor, run, opts, started)
	return result, nil
}

// execute drives the stage machine for a created run and always finalizes
// it, whatever happens.
func (e *CheckEngine) execute(ctx context.Context, monitor *database.Monitor, run *database.CheckRun, opts CheckOptions, started time.Time) *CheckResult {
	timings := make(map[string]int64)
	stageStarted := started
	advance := func(stage string) {
		now := time.Now()
		timings[run.LastStage] = now.Sub(stageStarted).Milliseconds()
		stageStarted = now
		run.LastStage = stage
		if err := e.runs.AdvanceStage(run.RunUUID, stage); err != nil {
			e.logger.Error("Failed to advance run stage", "run_uuid", run.RunUUID, "stage", stage, "error", err)
		}
	}

	result := &CheckResult{RunUUID: run.RunUUID, EmailDetails: []EmailDetail{}}
	finalize := func(status, errMessage string) *CheckResult {
		timings[run.LastStage] = time.Since(stageStarted).Milliseconds()
		run.Status = status
		run.ErrorMessage = errMessage
		run.Found = result.Found
		run.Fetched = result.Fetched
		run.EmailsProcessed = result.Processed
		run.EmailsSkipped = result.Skipped
		run.InvoicesCreated = result.InvoicesCreated
		run.ErrorsCount = result.Errors
		if err := e.runs.Finalize(run, timings); err != nil {
			e.logger.Error("Failed to finalize check run", "run_uuid", run.RunUUID, "error", err)
		}

		monitorErr := ""
		if status == database.RunStatusError {
			monitorErr = errMessage
		}
		if err := e.monitors.RecordCheckOutcome(monitor.ID, result.Processed, result.InvoicesCreated, monitorErr); err != nil {
			e.logger.Error("Failed to record monitor outcome", "monitor_id", monitor.ID, "error", err)
		}

		result.Status = status
		result.Stage = run.LastStage
		result.Success = status == database.RunStatusSuccess
		result.Error = errMessage
		result.TotalTimeMs = time.Since(started).Milliseconds()
		e.logger.Info("Check run finished",
			"run_uuid", run.RunUUID,
			"monitor_id", monitor.ID,
			"status", status,
			"found", result.Found,
			"processed", result.Processed,
			"invoices_created", result.InvoicesCreated,
			"errors", result.Errors,
			"total_ms", result.TotalTimeMs,
		)
		return result
	}

	// config: resolve credentials.
	advance(database.StageConfig)
	clientConfig, err := e.buildClientConfig(ctx, monitor)
	if err != nil {
		return finalize(database.RunStatusError, err.Error())
	}

	// connect.
	advance(database.StageConnect)
	client, err := e.dial(clientConfig)
	if err != nil {
		return finalize(database.RunStatusError, fmt.Sprintf("connect failed: %v", err))
	}
	defer client.Close()

	// open_folder.
	advance(database.StageOpenFolder)
	folder := opts.Folder
	if folder == "" {
		folder = monitor.Folder
	}
	mailbox, err := client.Open(folder)
	if err != nil {
		return finalize(database.RunStatusError, fmt.Sprintf("failed to open folder %q: %v", folder, err))
	}
	run.UIDValidity = int64(mailbox.UIDValidity)

	// search.
	advance(database.StageSearch)
	since := time.Now().AddDate(0, 0, -opts.SinceDays)
	if err := e.runs.RecordMailbox(run.RunUUID, folder, run.UIDValidity, fmt.Sprintf("SINCE %s", since.Format("02-Jan-2006"))); err != nil {
		e.logger.Error("Failed to record mailbox facts", "run_uuid", run.RunUUID, "error", err)
	}
	uids, err := client.SearchSince(since)
	if err != nil {
		return finalize(database.RunStatusError, fmt.Sprintf("search failed: %v", err))
	}
	result.Found = len(uids)
	if len(uids) > opts.Limit {
		// Keep the most recent window; UIDs ascend with arrival order.
		uids = uids[len(uids)-opts.Limit:]
	}

	// fetch.
	advance(database.StageFetch)
	var messages []email.Message
	if len(uids) > 0 {
		messages, err = client.Fetch(uids)
		if err != nil {
			return finalize(database.RunStatusError, fmt.Sprintf("fetch failed: %v", err))
		}
	}
	result.Fetched = len(messages)

	// process.
	advance(database.StageProcess)
	for i := range messages {
		detail := e.processMessage(ctx, monitor, run, &messages[i])
		result.EmailDetails = append(result.EmailDetails, *detail)
		run.AttachmentsTotal += detail.AttachmentCount
		run.AttachmentsSupported += detail.SupportedCount
		switch detail.Status {
		case database.LogStatusSkipped:
			result.Skipped++
		case database.LogStatusError:
			result.Errors++
		default:
			result.Processed++
			result.InvoicesCreated += detail.InvoicesCreated
		}
	}

	advance(database.StageComplete)
	switch {
	case result.Errors > 0 && result.Processed > 0:
		return finalize(database.RunStatusPartial, "")
	case result.Errors > 0:
		return finalize(database.RunStatusError, fmt.Sprintf("%d message(s) failed processing", result.Errors))
	default:
		return finalize(database.RunStatusSuccess, "")
	}
}

// buildClientConfig resolves credentials for the monitor. Password
// monitors decrypt at connect time; OAuth monitors refresh when needed and
// persist the fresh token.
func (e *CheckEngine) buildClientConfig(ctx context.Context, monitor *database.Monitor) (*email.ClientConfig, error) {
	config := &email.ClientConfig{
		Host:     monitor.IMAPHost,
		Port:     monitor.IMAPPort,
		Username: monitor.EmailAddress,
	}

	switch monitor.AuthMethod {
	case "oauth":
		token, refreshed, err := email.FreshAccessToken(ctx, &email.OAuthCredentials{
			ClientID:     monitor.OAuthClientID,
			ClientSecret: monitor.OAuthClientSecret,
			RefreshToken: monitor.OAuthRefreshToken,
			AccessToken:  monitor.OAuthAccessToken,
			Expiry:       monitor.OAuthTokenExpiry,
		})
		if err != nil {
			return nil, checkErr(CodeAuthFailed, "oauth token refresh failed: %v", err)
		}
		if refreshed {
			expiry := token.Expiry
			if err := e.monitors.UpdateOAuthTokens(monitor.ID, token.AccessToken, &expiry); err != nil {
				e.logger.Error("Failed to persist refreshed oauth token", "monitor_id", monitor.ID, "error", err)
			}
		}
		config.AccessToken = token.AccessToken
	default:
		if e.cipher == nil {
			return nil, checkErr(CodeAuthFailed, "no encryption key configured for password auth")
		}
		password, err := e.cipher.Decrypt(monitor.EncryptedPassword)
		if err != nil {
			return nil, checkErr(CodeAuthFailed, "password decryption failed: %v", err)
		}
		config.Password = password
	}
	return config, nil
}

// processMessage runs the ordered gates on one message, then hands its
// supported attachments to the extraction pipeline. Exceptions are
// recorded as status error and never abort the run.
func (e *CheckEngine) processMessage(ctx context.Context, monitor *database.Monitor, run *database.CheckRun, msg *email.Message) *EmailDetail {
	msgStarted := time.Now()

	detail := &EmailDetail{
		UID:             msg.UID,
		MessageID:       msg.MessageID,
		Subject:         msg.Subject,
		From:            msg.From,
		AttachmentCount: len(msg.Attachments),
	}

	entry := &database.ProcessingLogEntry{
		MonitorID:       monitor.ID,
		CheckRunUUID:    run.RunUUID,
		UIDValidity:     run.UIDValidity,
		UID:             int64(msg.UID),
		MessageID:       msg.MessageID,
		Subject:         msg.Subject,
		FromAddress:     msg.From,
		AttachmentCount: len(msg.Attachments),
	}
	if !msg.Date.IsZero() {
		d := msg.Date
		entry.ReceivedDate = &d
	}

	var mimeTypes, filenames []string
	var supported []email.Attachment
	for _, a := range msg.Attachments {
		mimeTypes = append(mimeTypes, a.ContentType)
		filenames = append(filenames, a.Filename)
		if IsSupportedAttachment(a) {
			supported = append(supported, a)
		}
	}
	entry.MimeTypes = database.MarshalNames(mimeTypes)
	entry.Filenames = database.MarshalNames(filenames)
	entry.SupportedCount = len(supported)
	detail.SupportedCount = len(supported)

	record := func(status, skipReason, errMessage string) *EmailDetail {
		entry.Status = status
		entry.SkipReason = skipReason
		entry.ErrorMessage = errMessage
		entry.ProcessingMs = time.Since(msgStarted).Milliseconds()
		entry.InvoicesCreated = detail.InvoicesCreated
		if err := e.logs.Insert(entry); err != nil {
			e.logger.Error("Failed to insert processing log entry", "run_uuid", run.RunUUID, "uid", msg.UID, "error", err)
		}
		detail.Status = status
		detail.SkipReason = skipReason
		detail.Error = errMessage
		return detail
	}

	// G1: dedupe on (uidvalidity, uid), then message-id.
	if dup, err := e.logs.IsUIDProcessed(monitor.ID, run.UIDValidity, int64(msg.UID)); err != nil {
		return record(database.LogStatusError, "", fmt.Sprintf("dedupe check failed: %v", err))
	} else if dup {
		return record(database.LogStatusSkipped, SkipAlreadyProcessedUID, "")
	}
	if dup, err := e.logs.IsMessageIDProcessed(monitor.ID, msg.MessageID); err != nil {
		return record(database.LogStatusError, "", fmt.Sprintf("dedupe check failed: %v", err))
	} else if dup {
		return record(database.LogStatusSkipped, SkipAlreadyProcessedMessageID, "")
	}

	// G2: attachments present.
	if len(msg.Attachments) == 0 {
		return record(database.LogStatusSkipped, SkipNoAttachments, "")
	}

	// G3: at least one supported.
	if len(supported) == 0 {
		return record(database.LogStatusSkipped, SkipUnsupportedAttachments, "")
	}

	// G4: keyword filter.
	if monitor.RequireInvoiceKeywords && !MatchesKeywordFilter(*msg) {
		return record(database.LogStatusSkipped, SkipKeywordFilterMiss, "")
	}

	// G5: extraction.
	created, err := e.ingestAttachments(ctx, monitor, run, msg, supported)
	detail.InvoicesCreated = created
	if err != nil {
		return record(database.LogStatusError, SkipProcessFailed, err.Error())
	}
	return record(database.LogStatusDBOK, "", "")
}

// ingestAttachments runs each supported attachment through the pipeline
// and persists an ingestion run with its items. The first hard failure
// aborts the message; successfully created invoices stay.
func (e *CheckEngine) ingestAttachments(ctx context.Context, monitor *database.Monitor, run *database.CheckRun, msg *email.Message, supported []email.Attachment) (int, error) {
	created := 0
	for _, attachment := range supported {
		runID := newRunID(fmt.Sprintf("email-%d", monitor.ID))

		var t *trace.Trace
		if e.tracer != nil {
			t = e.tracer.Begin(runID)
		}

		if err := e.ingestion.CreateRun(&database.IngestionRun{
			RunID:    runID,
			UserID:   monitor.UserID,
			FileName: attachment.Filename,
			FileSize: int64(len(attachment.Data)),
		}); err != nil {
			return created, fmt.Errorf("failed to create ingestion run: %w", err)
		}

		stepStarted := time.Now()
		result, err := e.pipeline.Process(ctx, extraction.Input{
			Data:        attachment.Data,
			Filename:    attachment.Filename,
			ContentType: attachment.ContentType,
		})
		if err != nil || !result.OK {
			if failErr := e.ingestion.FailRun(runID); failErr != nil {
				e.logger.Error("Failed to mark ingestion run failed", "run_id", runID, "error", failErr)
			}
			if t != nil {
				t.Error("extraction", stepStarted, map[string]any{"filename": attachment.Filename, "error": fmt.Sprint(err)})
				e.tracer.Finish(t, &monitor.UserID)
			}
			if err == nil {
				err = fmt.Errorf("extraction produced no text for %s", attachment.Filename)
			}
			return created, err
		}
		if t != nil {
			t.Step("extraction", stepStarted, map[string]any{
				"filename":   attachment.Filename,
				"file_type":  string(result.FileType),
				"method":     result.ExtractionMethod,
				"confidence": result.Confidence,
			})
		}

		stepStarted = time.Now()
		invoice, warnings := e.buildCanonical(result, msg, attachment)
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
		if err := e.ingestion.CompleteRun(runID, vendorName, result.Parsed.Totals.TotalCents, items); err != nil {
			return created, fmt.Errorf("failed to complete ingestion run: %w", err)
		}
		created++

		if t != nil {
			e.tracer.Finish(t, &monitor.UserID)
		}
	}
	return created, nil
}

// buildCanonical converts the pipeline result into the canonical invoice
// via the tolerant builder.
func (e *CheckEngine) buildCanonical(result *extraction.Result, msg *email.Message, attachment email.Attachment) (*canonical.Invoice, []string) {
	payload := payloadFromResult(result)
	return e.builder.Build(payload, canonical.BuildInput{
		SourceType:    "email",
		ParserName:    "invoice-parser",
		ParserVersion: "1",
		SourceRef: canonical.SourceRef{
			Kind:     "email_attachment",
			Value:    attachment.Filename,
			MimeType: attachment.ContentType,
		},
	})
}

// payloadFromResult reshapes the typed parser output into the generic
// payload form the builder coerces. Round-tripping through JSON keeps one
// coercion path for every caller.
func payloadFromResult(result *extraction.Result) map[string]any {
	payload := map[string]any{
		"raw_text": result.RawText,
		"currency": result.Parsed.Metadata.Currency,
	}
	if result.Parsed.Metadata.InvoiceNumber != "" {
		payload["invoice_number"] = result.Parsed.Metadata.InvoiceNumber
	}
	if result.Parsed.Metadata.InvoiceDate != nil {
		payload["invoice_date"] = result.Parsed.Metadata.InvoiceDate.Format(time.RFC3339)
	}
	if result.Parsed.Vendor != nil {
		payload["vendor"] = map[string]any{"name": result.Parsed.Vendor.Name}
	}
	if result.Parsed.Customer != "" {
		payload["customer"] = map[string]any{"name": result.Parsed.Customer}
	}
	if result.Parsed.Totals.TotalCents != nil {
		payload["invoice_total_cents"] = float64(*result.Parsed.Totals.TotalCents)
	}

	var items []any
	raw, err := json.Marshal(result.Parsed.LineItems)
	if err == nil {
		var decoded []map[string]any
		if json.Unmarshal(raw, &decoded) == nil {
			for _, item := range decoded {
				items = append(items, map[string]any{
					"description":    item["description"],
					"sku":            item["sku"],
					"quantity":       item["quantity"],
					"unitPriceCents": item["unit_price_cents"],
					"lineTotalCents": item["total_cents"],
				})
			}
		}
	}
	if len(items) > 0 {
		payload["items"] = items
	}
	return payload
}

// toInvoiceItems maps parsed lines to store rows.
func toInvoiceItems(result *extraction.Result) []database.InvoiceItem {
	items := make([]database.InvoiceItem, 0, len(result.Parsed.LineItems))
	for _, line := range result.Parsed.LineItems {
		items = append(items, database.InvoiceItem{
			Description:    line.Description,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     line.TotalCents,
			Category:       line.Category,
		})
	}
	return items
}

// newRunID builds `<prefix>-<ts>-<rand>` ingestion run identifiers.
func newRunID(prefix string) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixMilli(), time.Now().UnixNano()%100000)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// ListCheckRuns is the history reader for a monitor's runs.
func (e *CheckEngine) ListCheckRuns(monitorID int64, limit int) ([]database.CheckRun, error) {
	return e.runs.ListByMonitor(monitorID, limit)
}

// ListProcessingLogs reads per-message outcomes by run UUID or, when the
// UUID is empty, by monitor.
func (e *CheckEngine) ListProcessingLogs(runUUID string, monitorID int64, limit int) ([]database.ProcessingLogEntry, error) {
	if runUUID != "" {
		return e.logs.ListByRun(runUUID, limit)
	}
	return e.logs.ListByMonitor(monitorID, limit)
}
