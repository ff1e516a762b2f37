package email

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	gomail "github.com/emersion/go-message/mail"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultAuthTimeout    = 15 * time.Second

	// maxAttachmentBytes caps how much of a single attachment is read into
	// memory; anything larger is not a plausible invoice document.
	maxAttachmentBytes = 50 << 20
)

// IMAPClient is the production MailClient over IMAP with TLS.
type IMAPClient struct {
	c      *client.Client
	config *ClientConfig
}

// Connect dials the mailbox over TLS and authenticates with either the
// password or the XOAUTH2 access token, whichever the config carries.
func Connect(config *ClientConfig) (*IMAPClient, error) {
	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	authTimeout := config.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}

	port := config.Port
	if port == 0 {
		port = 993
	}
	addr := fmt.Sprintf("%s:%d", config.Host, port)

	dialer := &net.Dialer{Timeout: connectTimeout}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: config.Host})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.Timeout = authTimeout
	if config.AccessToken != "" {
		if err := c.Authenticate(newXOAuth2Client(config.Username, config.AccessToken)); err != nil {
			c.Logout()
			return nil, fmt.Errorf("XOAUTH2 authentication failed for %s: %w", config.Username, err)
		}
	} else {
		if err := c.Login(config.Username, config.Password); err != nil {
			c.Logout()
			return nil, fmt.Errorf("login failed for %s: %w", config.Username, err)
		}
	}
	c.Timeout = 0

	return &IMAPClient{c: c, config: config}, nil
}

// Open selects a folder read-only and captures its UIDVALIDITY.
func (ic *IMAPClient) Open(folder string) (*Mailbox, error) {
	if folder == "" {
		folder = "INBOX"
	}
	mbox, err := ic.c.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open folder %q: %w", folder, err)
	}
	return &Mailbox{
		Name:        mbox.Name,
		UIDValidity: mbox.UidValidity,
		Messages:    mbox.Messages,
	}, nil
}

// SearchSince runs a UID SEARCH SINCE <date> and returns the UIDs sorted
// ascending.
func (ic *IMAPClient) SearchSince(since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := ic.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// Fetch retrieves full bodies and structure for the given UIDs and parses
// each into a Message with decoded attachments.
func (ic *IMAPClient) Fetch(uids []uint32) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	errCh := make(chan error, 1)
	go func() {
		errCh <- ic.c.UidFetch(seqSet, items, messages)
	}()

	var result []Message
	for msg := range messages {
		parsed, err := parseMessage(msg, section)
		if err != nil {
			// A single undecodable message must not abort the fetch; the
			// caller records it against the run.
			parsed = &Message{UID: msg.Uid}
			if msg.Envelope != nil {
				parsed.Subject = msg.Envelope.Subject
				parsed.MessageID = msg.Envelope.MessageId
			}
		}
		result = append(result, *parsed)
	}

	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return result, nil
}

// Close logs out from the server.
func (ic *IMAPClient) Close() error {
	return ic.c.Logout()
}

// parseMessage converts a raw IMAP message into our Message form, walking
// the MIME tree for attachments.
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	m := &Message{UID: msg.Uid}

	if msg.Envelope != nil {
		m.Subject = msg.Envelope.Subject
		m.MessageID = msg.Envelope.MessageId
		m.Date = msg.Envelope.Date
		m.From = formatAddresses(msg.Envelope.From)
	}

	body := msg.GetBody(section)
	if body == nil {
		return m, nil
	}

	mr, err := gomail.CreateReader(body)
	if err != nil {
		return m, fmt.Errorf("failed to create mail reader: %w", err)
	}

	if m.Date.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			m.Date = date
		}
	}
	if m.MessageID == "" {
		if id, err := mr.Header.MessageID(); err == nil {
			m.MessageID = id
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate malformed parts; keep whatever parsed so far.
			break
		}

		header, ok := part.Header.(*gomail.AttachmentHeader)
		if !ok {
			continue
		}

		filename, _ := header.Filename()
		contentType, _, _ := header.ContentType()

		data, err := io.ReadAll(io.LimitReader(part.Body, maxAttachmentBytes))
		if err != nil {
			continue
		}

		m.Attachments = append(m.Attachments, Attachment{
			Filename:    filename,
			ContentType: strings.ToLower(contentType),
			Size:        len(data),
			Data:        data,
		})
	}

	return m, nil
}

// formatAddresses renders envelope addresses in text form,
// "Name <user@host>" when a display name is present.
func formatAddresses(addrs []*imap.Address) string {
	var parts []string
	for _, a := range addrs {
		if a == nil {
			continue
		}
		addr := strings.TrimSpace(a.Address())
		name := strings.TrimSpace(a.PersonalName)
		if name == "" {
			parts = append(parts, addr)
		} else {
			parts = append(parts, fmt.Sprintf("%s <%s>", name, addr))
		}
	}
	return strings.Join(parts, ", ")
}

// xoauth2Client implements the SASL XOAUTH2 mechanism used by Gmail and
// Office 365. go-sasl ships OAUTHBEARER only, so the initial response is
// assembled here.
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (x *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte("user=" + x.username + "\x01auth=Bearer " + x.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (x *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// The server sends a JSON error blob on failure; reply with an empty
	// line to elicit the final NO.
	return []byte{}, nil
}
