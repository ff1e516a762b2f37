package database

import "time"

// Monitor represents an email account under observation.
type Monitor struct {
	ID                     int64      `json:"id"`
	UserID                 int64      `json:"user_id"`
	EmailAddress           string     `json:"email_address"`
	Folder                 string     `json:"folder"`
	IMAPHost               string     `json:"imap_host"`
	IMAPPort               int        `json:"imap_port"`
	AuthMethod             string     `json:"auth_method"` // "password" or "oauth"
	EncryptedPassword      string     `json:"-"`
	OAuthClientID          string     `json:"-"`
	OAuthClientSecret      string     `json:"-"`
	OAuthRefreshToken      string     `json:"-"`
	OAuthAccessToken       string     `json:"-"`
	OAuthTokenExpiry       *time.Time `json:"oauth_token_expiry,omitempty"`
	Active                 bool       `json:"active"`
	RequireInvoiceKeywords bool       `json:"require_invoice_keywords"`
	EmailsProcessedCount   int        `json:"emails_processed_count"`
	InvoicesCreatedCount   int        `json:"invoices_created_count"`
	LastCheckedAt          *time.Time `json:"last_checked_at,omitempty"`
	LastError              string     `json:"last_error,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Check run terminal statuses.
const (
	RunStatusStarted = "started"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusError   = "error"
)

// CheckRun is one execution attempt against one monitor. Immutable after
// finalization.
type CheckRun struct {
	ID                   int64      `json:"id"`
	RunUUID              string     `json:"run_uuid"`
	MonitorID            int64      `json:"monitor_id"`
	Trigger              string     `json:"trigger"` // "manual" or "scheduled"
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	Status               string     `json:"status"`
	LastStage            string     `json:"last_stage"`
	Folder               string     `json:"folder"`
	UIDValidity          int64      `json:"uidvalidity"`
	SearchQuery          string     `json:"search_query"`
	Found                int        `json:"found"`
	Fetched              int        `json:"fetched"`
	AttachmentsTotal     int        `json:"attachments_total"`
	AttachmentsSupported int        `json:"attachments_supported"`
	EmailsSkipped        int        `json:"emails_skipped"`
	EmailsProcessed      int        `json:"emails_processed"`
	InvoicesCreated      int        `json:"invoices_created"`
	ErrorsCount          int        `json:"errors_count"`
	StageTimings         string     `json:"stage_timings,omitempty"` // JSON object, stage -> ms
	ErrorMessage         string     `json:"error_message,omitempty"`
}

// Processing log entry statuses.
const (
	LogStatusFound   = "found"
	LogStatusSkipped = "skipped"
	LogStatusDBOK    = "db_ok"
	LogStatusError   = "error"
)

// ProcessingLogEntry records the outcome for one message examined during a
// check run. The authoritative dedupe key is (monitor_id, uidvalidity, uid);
// (monitor_id, message_id) is the fallback.
type ProcessingLogEntry struct {
	ID              int64      `json:"id"`
	MonitorID       int64      `json:"monitor_id"`
	CheckRunUUID    string     `json:"check_run_uuid"`
	UIDValidity     int64      `json:"uidvalidity"`
	UID             int64      `json:"uid"`
	MessageID       string     `json:"message_id"`
	Subject         string     `json:"subject"`
	FromAddress     string     `json:"from_address"`
	ReceivedDate    *time.Time `json:"received_date,omitempty"`
	Status          string     `json:"status"`
	SkipReason      string     `json:"skip_reason,omitempty"`
	AttachmentCount int        `json:"attachment_count"`
	SupportedCount  int        `json:"supported_count"`
	MimeTypes       string     `json:"mime_types,omitempty"` // JSON array, truncated to 10
	Filenames       string     `json:"filenames,omitempty"`  // JSON array, truncated to 10
	InvoicesCreated int        `json:"invoices_created"`
	ProcessingMs    int64      `json:"processing_ms"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MonitorLock is an advisory mutex row preventing concurrent processing of
// one monitor. The primary key on monitor_id guarantees at most one holder.
type MonitorLock struct {
	MonitorID     int64     `json:"monitor_id"`
	LockedBy      string    `json:"locked_by"`
	LockedAt      time.Time `json:"locked_at"`
	LockExpiresAt time.Time `json:"lock_expires_at"`
}

// Ingestion run statuses.
const (
	IngestionStatusProcessing = "processing"
	IngestionStatusCompleted  = "completed"
	IngestionStatusFailed     = "failed"
)

// IngestionRun is one invoice extraction instance, triggered by an email
// attachment or a direct upload.
type IngestionRun struct {
	RunID             string    `json:"run_id"`
	UserID            int64     `json:"user_id"`
	AccountName       string    `json:"account_name,omitempty"`
	VendorName        string    `json:"vendor_name,omitempty"`
	FileName          string    `json:"file_name,omitempty"`
	FileSize          int64     `json:"file_size"`
	Status            string    `json:"status"`
	InvoiceTotalCents *int64    `json:"invoice_total_cents,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InvoiceItem is one line item owned by an ingestion run.
type InvoiceItem struct {
	ID             int64   `json:"id"`
	RunID          string  `json:"run_id"`
	Description    string  `json:"description"`
	Quantity       float64 `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TotalCents     int64   `json:"total_cents"`
	Category       string  `json:"category,omitempty"`
}

// User is an account owner. Only the columns the ownership triggers and
// history readers need; authentication internals are out of scope.
type User struct {
	ID                  int64      `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	AccountName         string     `json:"account_name,omitempty"`
	IsActive            bool       `json:"is_active"`
	IsEmailVerified     bool       `json:"is_email_verified"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP         string     `json:"last_login_ip,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ParseTraceRow is the persisted form of a pipeline trace.
type ParseTraceRow struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	StepCount   int       `json:"step_count"`
	Warnings    int       `json:"warnings"`
	Errors      int       `json:"errors"`
	TraceJSON   string    `json:"trace_json"`
	SummaryJSON string    `json:"summary_json"`
	CreatedAt   time.Time `json:"created_at"`
}
