package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/service"
)

// scriptTransport fails deliveries to the addresses listed in fail and
// counts every attempt.
type scriptTransport struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (t *scriptTransport) Send(ctx context.Context, mailboxRef, from, to, subject, htmlBody string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, to)
	shouldFail := t.fail[to]
	t.mu.Unlock()

	if shouldFail {
		return "", fmt.Errorf("delivery to %s refused", to)
	}
	return "msg-" + to, nil
}

func (t *scriptTransport) sends() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newExecutorFixture(t *testing.T, recipients int, transport *scriptTransport, maxFailures int) (*fakeStore, *service.Executor, []*model.TrackingRecord, string) {
	t.Helper()
	store := newFakeStore()
	svc := newTestService(store)

	input := validInput()
	input.Recipients = makeRecipients(recipients)

	result, err := svc.CreateCampaign(input)
	require.NoError(t, err)

	tracking := &fakeTrackingRepo{store: store}
	records, err := tracking.ListByCampaign(result.CampaignID)
	require.NoError(t, err)

	e := service.NewExecutor(&fakeCampaignRepo{store: store}, tracking, transport,
		"http://localhost:8080", time.Second, maxFailures)
	t.Cleanup(e.Close)
	return store, e, records, result.CampaignID
}

func TestExecutorMarksSent(t *testing.T) {
	transport := &scriptTransport{}
	store, e, records, _ := newExecutorFixture(t, 1, transport, 0)

	require.NoError(t, e.Dispatch(records[0].TrackingID))

	tracking := &fakeTrackingRepo{store: store}
	waitFor(t, func() bool {
		rec, _ := tracking.GetByTrackingID(records[0].TrackingID)
		return rec.Outcome == model.OutcomeSent
	})

	rec, err := tracking.GetByTrackingID(records[0].TrackingID)
	require.NoError(t, err)
	assert.NotNil(t, rec.SentAt)
	assert.Equal(t, []string{rec.RecipientEmail}, transport.sends())
}

func TestExecutorRecordsApplicationError(t *testing.T) {
	transport := &scriptTransport{fail: map[string]bool{"recipienta@example.com": true}}
	store, e, records, _ := newExecutorFixture(t, 1, transport, 0)

	require.NoError(t, e.Dispatch(records[0].TrackingID))

	tracking := &fakeTrackingRepo{store: store}
	waitFor(t, func() bool {
		rec, _ := tracking.GetByTrackingID(records[0].TrackingID)
		return rec.Outcome == model.OutcomeAppError
	})

	rec, err := tracking.GetByTrackingID(records[0].TrackingID)
	require.NoError(t, err)
	assert.Contains(t, rec.ErrorReason, "refused")
	assert.NotNil(t, rec.ErrorAt)
	assert.Nil(t, rec.SentAt)
}

func TestExecutorSkipsStoppedCampaign(t *testing.T) {
	transport := &scriptTransport{}
	store, e, records, campaignID := newExecutorFixture(t, 1, transport, 0)

	repo := &fakeCampaignRepo{store: store}
	changed, err := repo.TransitionStatus(campaignID,
		[]model.Status{model.StatusActive}, model.StatusStopped)
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, e.Dispatch(records[0].TrackingID))

	// Give the lane a moment; the record must stay pending and the transport
	// must never be called.
	time.Sleep(100 * time.Millisecond)
	tracking := &fakeTrackingRepo{store: store}
	rec, err := tracking.GetByTrackingID(records[0].TrackingID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePending, rec.Outcome)
	assert.Empty(t, transport.sends())
}

func TestExecutorDropsDuplicateDispatch(t *testing.T) {
	transport := &scriptTransport{}
	store, e, records, _ := newExecutorFixture(t, 1, transport, 0)

	require.NoError(t, e.Dispatch(records[0].TrackingID))
	require.NoError(t, e.Dispatch(records[0].TrackingID))

	tracking := &fakeTrackingRepo{store: store}
	waitFor(t, func() bool {
		rec, _ := tracking.GetByTrackingID(records[0].TrackingID)
		return rec.Outcome == model.OutcomeSent
	})

	// The record was already claimed or already sent on the second dispatch.
	require.NoError(t, e.Dispatch(records[0].TrackingID))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, transport.sends(), 1)
}

func TestExecutorStopsCampaignAfterConsecutiveFailures(t *testing.T) {
	transport := &scriptTransport{fail: map[string]bool{
		"recipienta@example.com": true,
		"recipientb@example.com": true,
		"recipientc@example.com": true,
	}}
	store, e, records, campaignID := newExecutorFixture(t, 4, transport, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Dispatch(records[i].TrackingID))
	}

	repo := &fakeCampaignRepo{store: store}
	waitFor(t, func() bool {
		c, _ := repo.GetByID(campaignID)
		return c.Status == model.StatusStopped
	})

	// The fourth recipient is protected by the shutoff.
	require.NoError(t, e.Dispatch(records[3].TrackingID))
	time.Sleep(100 * time.Millisecond)
	tracking := &fakeTrackingRepo{store: store}
	rec, err := tracking.GetByTrackingID(records[3].TrackingID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePending, rec.Outcome)
}
