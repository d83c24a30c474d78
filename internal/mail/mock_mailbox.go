package mail

import (
	"context"
	"sync"
	"time"
)

// MockMailbox is an in-memory MailboxReader. It stands in for the provider's
// read API in local runs and tests; messages are added with Deliver.
type MockMailbox struct {
	mu       sync.Mutex
	messages map[string][]InboundMessage // mailboxRef/folder -> messages
}

var _ MailboxReader = (*MockMailbox)(nil)

func NewMockMailbox() *MockMailbox {
	return &MockMailbox{messages: make(map[string][]InboundMessage)}
}

func (m *MockMailbox) Deliver(mailboxRef, folder string, msg InboundMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mailboxRef + "/" + folder
	m.messages[key] = append(m.messages[key], msg)
}

func (m *MockMailbox) ListRecentMessages(ctx context.Context, mailboxRef, folder string, since time.Time) ([]InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []InboundMessage
	for _, msg := range m.messages[mailboxRef+"/"+folder] {
		if msg.ReceivedAt.Before(since) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
