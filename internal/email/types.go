// Package email wraps the IMAP mailbox protocol behind a small client used
// by the check engine: connect, open a folder, search since a date, fetch
// full messages with attachments.
package email

import "time"

// Attachment is one decoded MIME attachment.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// Message is one fetched mailbox message.
type Message struct {
	UID         uint32       `json:"uid"`
	MessageID   string       `json:"message_id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	Date        time.Time    `json:"date"`
	Attachments []Attachment `json:"attachments"`
}

// Mailbox describes the opened folder.
type Mailbox struct {
	Name        string `json:"name"`
	UIDValidity uint32 `json:"uidvalidity"`
	Messages    uint32 `json:"messages"`
}

// ClientConfig holds connection parameters for one monitor's mailbox.
type ClientConfig struct {
	Host     string
	Port     int
	Username string

	// Password auth. Decrypted at connect time, never stored in clear.
	Password string

	// XOAUTH2 auth. AccessToken is used directly when fresh; otherwise the
	// token source refreshes it.
	AccessToken string

	ConnectTimeout time.Duration // default 30s
	AuthTimeout    time.Duration // default 15s
}

// MailClient is the mailbox collaborator the check engine depends on.
// Implementations must be safe to discard after Close.
type MailClient interface {
	// Open selects a folder and reports its UIDVALIDITY.
	Open(folder string) (*Mailbox, error)
	// SearchSince returns UIDs of messages received on or after the date.
	SearchSince(since time.Time) ([]uint32, error)
	// Fetch retrieves full messages for the given UIDs, parsing MIME
	// structure and attachments.
	Fetch(uids []uint32) ([]Message, error)
	Close() error
}
