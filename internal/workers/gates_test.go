package workers

import (
	"testing"

	"invoice-ingest/internal/email"
)

func TestIsSupportedAttachment(t *testing.T) {
	tests := []struct {
		name       string
		attachment email.Attachment
		want       bool
	}{
		{"pdf mime", email.Attachment{Filename: "doc.bin", ContentType: "application/pdf"}, true},
		{"mime with parameters", email.Attachment{Filename: "doc.bin", ContentType: "application/pdf; name=\"x\""}, true},
		{"heic mime", email.Attachment{Filename: "photo", ContentType: "image/heic"}, true},
		{"extension rescues generic mime", email.Attachment{Filename: "scan.PDF", ContentType: "application/octet-stream"}, true},
		{"octet-stream with invoice-like name", email.Attachment{Filename: "INV-20240115.dat", ContentType: "application/octet-stream"}, true},
		{"octet-stream with long number", email.Attachment{Filename: "174885.dat", ContentType: "application/octet-stream"}, true},
		{"octet-stream plain name", email.Attachment{Filename: "notes.dat", ContentType: "application/octet-stream"}, false},
		{"word document", email.Attachment{Filename: "contract.docx", ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, false},
		{"zip archive", email.Attachment{Filename: "archive.zip", ContentType: "application/zip"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSupportedAttachment(tt.attachment); got != tt.want {
				t.Errorf("IsSupportedAttachment(%q, %q) = %v, want %v",
					tt.attachment.Filename, tt.attachment.ContentType, got, tt.want)
			}
		})
	}
}

func TestMatchesKeywordFilter(t *testing.T) {
	tests := []struct {
		name string
		msg  email.Message
		want bool
	}{
		{
			"subject keyword",
			email.Message{Subject: "Your invoice for January", From: "ar@vendor.com"},
			true,
		},
		{
			"sender keyword",
			email.Message{Subject: "January delivery", From: "billing@vendor.com"},
			false, // "billing" is not a listed keyword; "bill" must match on word boundary
		},
		{
			"attachment filename keyword",
			email.Message{
				Subject:     "see attached",
				Attachments: []email.Attachment{{Filename: "statement_jan.pdf"}},
			},
			true,
		},
		{
			"invoice-like filename without keyword",
			email.Message{
				Subject:     "documents",
				Attachments: []email.Attachment{{Filename: "INV_4471.pdf"}},
			},
			true,
		},
		{
			"word boundary blocks substring",
			email.Message{Subject: "quarterly report summary", From: "team@example.com"},
			false, // "po" inside "report" must not fire
		},
		{
			"po as standalone word",
			email.Message{Subject: "PO 1182 confirmation", From: "team@example.com"},
			true,
		},
		{
			"no signal at all",
			email.Message{Subject: "lunch on friday?", From: "friend@example.com"},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesKeywordFilter(tt.msg); got != tt.want {
				t.Errorf("MatchesKeywordFilter(%q) = %v, want %v", tt.msg.Subject, got, tt.want)
			}
		})
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		haystack string
		keyword  string
		want     bool
	}{
		{"your invoice is ready", "invoice", true},
		{"invoice", "invoice", true},
		{"reinvoiced", "invoice", false},
		{"report attached", "po", false},
		{"po-1182 attached", "po", true},
		{"see the po.", "po", true},
	}
	for _, tt := range tests {
		if got := containsWord(tt.haystack, tt.keyword); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", tt.haystack, tt.keyword, got, tt.want)
		}
	}
}
