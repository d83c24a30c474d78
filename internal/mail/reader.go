package mail

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// InboundMessage is one message from the sending mailbox. Providers that
// expose parsed fields fill From/Subject/Body directly; raw MIME sources
// leave Raw set and the reconciler parses it on demand.
type InboundMessage struct {
	ID         string
	From       string
	Subject    string
	Body       string
	Raw        []byte
	ReceivedAt time.Time
}

// MailboxReader lists recent messages from a mailbox folder. Implementations
// wrap the provider's read API (IMAP, Graph, local store); only the bounce
// reconciler consumes it.
type MailboxReader interface {
	ListRecentMessages(ctx context.Context, mailboxRef, folder string, since time.Time) ([]InboundMessage, error)
}

// ParseRaw fills From, Subject and Body from a raw MIME message. Partial
// results are kept when parsing stops midway through a malformed part.
func ParseRaw(m *InboundMessage) error {
	if len(m.Raw) == 0 {
		return nil
	}

	reader, err := mail.CreateReader(bytes.NewReader(m.Raw))
	if err != nil {
		return err
	}

	if subject, err := reader.Header.Subject(); err == nil && m.Subject == "" {
		m.Subject = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 && m.From == "" {
		m.From = strings.ToLower(strings.TrimSpace(fromList[0].Address))
	}

	var text strings.Builder
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(mediaType, "text/") || mediaType == "" {
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				text.Write(body)
			}
		case *mail.AttachmentHeader:
			// Delivery status notifications often carry the machine-readable
			// report as an attachment part.
			contentType, _, _ := header.ContentType()
			if strings.HasPrefix(contentType, "message/") || strings.HasPrefix(contentType, "text/") {
				body, err := io.ReadAll(part.Body)
				if err != nil {
					continue
				}
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				text.Write(body)
			}
		}
	}

	if m.Body == "" {
		m.Body = text.String()
	}
	return nil
}
