package workers

import (
	"context"
	"fmt"
	"time"

	"invoice-ingest/internal/database"
	"invoice-ingest/internal/email"
)

// DiagnoseOptions tunes a read-only diagnostic pass.
type DiagnoseOptions struct {
	SinceDays      int
	Limit          int
	Folder         string
	BypassKeywords bool
	BypassDedupe   bool
}

// MessageDiagnostic is the full reasoning for one message.
type MessageDiagnostic struct {
	UID             uint32   `json:"uid"`
	MessageID       string   `json:"message_id,omitempty"`
	Subject         string   `json:"subject"`
	From            string   `json:"from"`
	AttachmentCount int      `json:"attachment_count"`
	Supported       []string `json:"supported_attachments"`
	Unsupported     []string `json:"unsupported_attachments"`
	Duplicate       bool     `json:"duplicate"`
	DuplicateBy     string   `json:"duplicate_by,omitempty"`
	KeywordMatch    bool     `json:"keyword_match"`
	WouldProcess    bool     `json:"would_process"`
	Verdict         string   `json:"verdict"`
}

// Diagnostic is the result of a dry run against a monitor.
type Diagnostic struct {
	MonitorID    int64               `json:"monitor_id"`
	Folder       string              `json:"folder"`
	UIDValidity  int64               `json:"uidvalidity"`
	Found        int                 `json:"found"`
	Examined     int                 `json:"examined"`
	WouldProcess int                 `json:"would_process"`
	Messages     []MessageDiagnostic `json:"messages"`
	TotalTimeMs  int64               `json:"total_time_ms"`
}

// Diagnose runs the mailbox and gate logic without writing any state: no
// check run, no processing log, no lock, no dedupe entries. Keyword and
// dedupe gates can be bypassed to answer "why was this message skipped".
func (e *CheckEngine) Diagnose(ctx context.Context, monitorID int64, opts DiagnoseOptions) (*Diagnostic, error) {
	if opts.SinceDays <= 0 {
		opts.SinceDays = 7
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	started := time.Now()

	monitor, err := e.monitors.GetByID(monitorID)
	if err != nil {
		return nil, checkErr(CodeProcessingError, "failed to load monitor %d: %v", monitorID, err)
	}
	if monitor == nil {
		return nil, checkErr(CodeNotFound, "monitor %d does not exist", monitorID)
	}

	clientConfig, err := e.buildClientConfig(ctx, monitor)
	if err != nil {
		return nil, err
	}
	client, err := e.dial(clientConfig)
	if err != nil {
		return nil, checkErr(CodeUnreachable, "connect failed: %v", err)
	}
	defer client.Close()

	folder := opts.Folder
	if folder == "" {
		folder = monitor.Folder
	}
	mailbox, err := client.Open(folder)
	if err != nil {
		return nil, checkErr(CodeUnreachable, "failed to open folder %q: %v", folder, err)
	}

	uids, err := client.SearchSince(time.Now().AddDate(0, 0, -opts.SinceDays))
	if err != nil {
		return nil, checkErr(CodeProcessingError, "search failed: %v", err)
	}

	diag := &Diagnostic{
		MonitorID:   monitorID,
		Folder:      folder,
		UIDValidity: int64(mailbox.UIDValidity),
		Found:       len(uids),
		Messages:    []MessageDiagnostic{},
	}
	if len(uids) > opts.Limit {
		uids = uids[len(uids)-opts.Limit:]
	}

	var messages []email.Message
	if len(uids) > 0 {
		messages, err = client.Fetch(uids)
		if err != nil {
			return nil, checkErr(CodeProcessingError, "fetch failed: %v", err)
		}
	}

	for i := range messages {
		md := e.diagnoseMessage(monitor, diag.UIDValidity, &messages[i], opts)
		diag.Messages = append(diag.Messages, *md)
		diag.Examined++
		if md.WouldProcess {
			diag.WouldProcess++
		}
	}
	diag.TotalTimeMs = time.Since(started).Milliseconds()
	return diag, nil
}

func (e *CheckEngine) diagnoseMessage(monitor *database.Monitor, uidValidity int64, msg *email.Message, opts DiagnoseOptions) *MessageDiagnostic {
	md := &MessageDiagnostic{
		UID:             msg.UID,
		MessageID:       msg.MessageID,
		Subject:         msg.Subject,
		From:            msg.From,
		AttachmentCount: len(msg.Attachments),
	}

	for _, a := range msg.Attachments {
		label := fmt.Sprintf("%s (%s)", a.Filename, a.ContentType)
		if IsSupportedAttachment(a) {
			md.Supported = append(md.Supported, label)
		} else {
			md.Unsupported = append(md.Unsupported, label)
		}
	}

	if !opts.BypassDedupe {
		if dup, err := e.logs.IsUIDProcessed(monitor.ID, uidValidity, int64(msg.UID)); err == nil && dup {
			md.Duplicate = true
			md.DuplicateBy = "uid"
		} else if dup, err := e.logs.IsMessageIDProcessed(monitor.ID, msg.MessageID); err == nil && dup {
			md.Duplicate = true
			md.DuplicateBy = "message_id"
		}
	}
	md.KeywordMatch = MatchesKeywordFilter(*msg)

	switch {
	case md.Duplicate:
		md.Verdict = "skip: already processed (" + md.DuplicateBy + ")"
	case len(msg.Attachments) == 0:
		md.Verdict = "skip: no attachments"
	case len(md.Supported) == 0:
		md.Verdict = "skip: no supported attachment types"
	case monitor.RequireInvoiceKeywords && !opts.BypassKeywords && !md.KeywordMatch:
		md.Verdict = "skip: keyword filter miss"
	default:
		md.WouldProcess = true
		md.Verdict = "would process"
	}
	return md
}
