package workers

import (
	"path/filepath"
	"regexp"
	"strings"

	"invoice-ingest/internal/email"
)

// Skip reasons recorded on processing log entries.
const (
	SkipAlreadyProcessedUID       = "already_processed_uid_match"
	SkipAlreadyProcessedMessageID = "already_processed_message_id_match"
	SkipNoAttachments             = "no_attachments"
	SkipUnsupportedAttachments    = "unsupported_attachment_types"
	SkipKeywordFilterMiss         = "keyword_filter_miss"
	SkipProcessFailed             = "process_failed"
)

// supportedMimeTypes is the canonical MIME support table: PDF plus common
// raster formats, including HEIC from phone cameras.
var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/gif":       true,
	"image/bmp":       true,
	"image/tiff":      true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
}

// supportedExtensions admits attachments whose MIME type is generic but
// whose filename is unambiguous.
var supportedExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true, ".heic": true,
	".heif": true,
}

// invoiceKeywords are matched against subject, filenames and sender.
var invoiceKeywords = []string{
	"invoice", "bill", "statement", "receipt", "order", "payment",
	"purchase", "po", "quote", "estimate", "remittance", "credit", "debit",
}

// invoiceFilenamePatterns admit filenames that look like invoice documents
// even without a keyword.
var invoiceFilenamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)inv[-_]?\d+`),
	regexp.MustCompile(`(?i)po[-_]?\d+`),
	regexp.MustCompile(`\d{4,}`),
}

// IsSupportedAttachment applies the attachment support policy: known MIME
// type, or allow-listed extension, or octet-stream with an invoice-looking
// filename.
func IsSupportedAttachment(a email.Attachment) bool {
	mime := strings.ToLower(strings.TrimSpace(a.ContentType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if supportedMimeTypes[mime] {
		return true
	}
	if supportedExtensions[strings.ToLower(filepath.Ext(a.Filename))] {
		return true
	}
	if mime == "application/octet-stream" && filenameLooksLikeInvoice(a.Filename) {
		return true
	}
	return false
}

// MatchesKeywordFilter applies the keyword gate over the message's
// subject, sender and attachment filenames.
func MatchesKeywordFilter(msg email.Message) bool {
	haystack := strings.ToLower(msg.Subject + " " + msg.From)
	for _, a := range msg.Attachments {
		haystack += " " + strings.ToLower(a.Filename)
	}
	for _, keyword := range invoiceKeywords {
		if containsWord(haystack, keyword) {
			return true
		}
	}
	for _, a := range msg.Attachments {
		if filenameLooksLikeInvoice(a.Filename) {
			return true
		}
	}
	return false
}

func filenameLooksLikeInvoice(filename string) bool {
	for _, re := range invoiceFilenamePatterns {
		if re.MatchString(filename) {
			return true
		}
	}
	return false
}

// containsWord matches a keyword on word boundaries so "po" does not fire
// on "report".
func containsWord(haystack, keyword string) bool {
	for start := 0; ; {
		i := strings.Index(haystack[start:], keyword)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isWordChar(haystack[i-1])
		afterIdx := i + len(keyword)
		after := afterIdx >= len(haystack) || !isWordChar(haystack[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
