// Package mail holds the engine's two external mail contracts: the outbound
// Transport and the MailboxReader the bounce reconciler scans. Both take the
// opaque mailbox reference the caller supplied at campaign creation; the
// engine never holds ambient credentials.
package mail

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// Transport performs one delivery attempt. A returned error is terminal for
// that recipient; the engine never retries a synchronous send failure.
type Transport interface {
	Send(ctx context.Context, mailboxRef, from, to, subject, htmlBody string) (messageID string, err error)
}

// MockTransport simulates a provider with a configurable failure rate.
type MockTransport struct {
	FailureRate float64 // 0..1, chance a send fails

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockTransport(failureRate float64, seed int64) *MockTransport {
	return &MockTransport{
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (t *MockTransport) Send(ctx context.Context, mailboxRef, from, to, subject, htmlBody string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	roll := t.rng.Float64()
	t.mu.Unlock()

	if roll < t.FailureRate {
		return "", fmt.Errorf("mock transport: delivery to %s failed", to)
	}
	return uuid.NewString(), nil
}
