// internal/service/executor.go
package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coldpath/campaign-engine/internal/mail"
	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/repository"
)

// Executor consumes send jobs and drives the mail transport. Sends for one
// mailbox run on a single lane goroutine so they are serialized against the
// provider's logical connection; different mailboxes proceed concurrently.
type Executor struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TrackingRepo repository.TrackingRepositoryInterface
	Transport    mail.Transport
	BaseURL      string
	SendTimeout  time.Duration

	// MaxConsecutiveFailures stops a campaign after that many transport
	// failures in a row, protecting the mailbox's sending reputation.
	// Zero disables the shutoff.
	MaxConsecutiveFailures int

	Now func() time.Time

	mu       sync.Mutex
	lanes    map[string]chan laneJob
	inflight map[string]struct{}
	failures map[string]int
	closed   chan struct{}
	wg       sync.WaitGroup
}

type laneJob struct {
	record   *model.TrackingRecord
	campaign *model.Campaign
}

func NewExecutor(campaigns repository.CampaignRepositoryInterface,
	tracking repository.TrackingRepositoryInterface, transport mail.Transport,
	baseURL string, sendTimeout time.Duration, maxConsecutiveFailures int) *Executor {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Executor{
		CampaignRepo:           campaigns,
		TrackingRepo:           tracking,
		Transport:              transport,
		BaseURL:                baseURL,
		SendTimeout:            sendTimeout,
		MaxConsecutiveFailures: maxConsecutiveFailures,
		Now:                    time.Now,
		lanes:                  make(map[string]chan laneJob),
		inflight:               make(map[string]struct{}),
		failures:               make(map[string]int),
		closed:                 make(chan struct{}),
	}
}

// HandleJob is the queue subscriber entry point.
func (e *Executor) HandleJob(body []byte) error {
	var job SendJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("executor: invalid job payload: %v", err)
		return nil // malformed, no retry
	}
	return e.Dispatch(job.TrackingID)
}

// Dispatch routes one tracking record onto its mailbox lane. Duplicates
// (overlapping ticks, queue redelivery) are dropped via the in-flight set
// and the record's own outcome.
func (e *Executor) Dispatch(trackingID string) error {
	if !e.claim(trackingID) {
		return nil
	}

	rec, err := e.TrackingRepo.GetByTrackingID(trackingID)
	if err != nil {
		e.release(trackingID)
		return err
	}
	if rec == nil || rec.Outcome != model.OutcomePending {
		e.release(trackingID)
		return nil
	}

	campaign, err := e.CampaignRepo.GetByID(rec.CampaignID)
	if err != nil {
		e.release(trackingID)
		return err
	}

	select {
	case e.lane(campaign.MailboxRef) <- laneJob{record: rec, campaign: campaign}:
		return nil
	case <-e.closed:
		e.release(trackingID)
		return nil
	}
}

// Close stops the lanes and waits for in-flight sends to finish recording
// their outcome.
func (e *Executor) Close() {
	e.mu.Lock()
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Executor) claim(trackingID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[trackingID]; ok {
		return false
	}
	e.inflight[trackingID] = struct{}{}
	return true
}

func (e *Executor) release(trackingID string) {
	e.mu.Lock()
	delete(e.inflight, trackingID)
	e.mu.Unlock()
}

func (e *Executor) lane(mailboxRef string) chan laneJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.lanes[mailboxRef]; ok {
		return ch
	}
	ch := make(chan laneJob, 128)
	e.lanes[mailboxRef] = ch
	e.wg.Add(1)
	go e.runLane(ch)
	return ch
}

func (e *Executor) runLane(ch chan laneJob) {
	defer e.wg.Done()
	for {
		select {
		case j := <-ch:
			e.send(j)
		case <-e.closed:
			return
		}
	}
}

func (e *Executor) send(j laneJob) {
	defer e.release(j.record.TrackingID)

	// Status check just before sending: a stop issued since the job was
	// queued prevents this send; a send already past this point completes
	// and records its outcome.
	campaign, err := e.CampaignRepo.GetByID(j.campaign.ID)
	if err != nil {
		log.Printf("executor: cannot load campaign %s: %v", j.campaign.ID, err)
		return
	}
	if campaign.Status != model.StatusActive {
		return
	}

	subject, html := RenderMessage(campaign, j.record, e.BaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), e.SendTimeout)
	defer cancel()

	messageID, err := e.Transport.Send(ctx, campaign.MailboxRef, campaign.SenderEmail,
		j.record.RecipientEmail, subject, html)
	now := e.Now().UTC()

	if err != nil {
		if _, markErr := e.TrackingRepo.MarkApplicationError(j.record.TrackingID, err.Error(), now); markErr != nil {
			log.Printf("executor: cannot record send error for %s: %v", j.record.TrackingID, markErr)
		}
		log.Printf("❌ send to %s failed: %v", j.record.RecipientEmail, err)
		e.noteFailure(campaign.ID)
		return
	}

	if _, err := e.TrackingRepo.MarkSent(j.record.TrackingID, now); err != nil {
		log.Printf("executor: cannot mark %s sent: %v", j.record.TrackingID, err)
		return
	}
	e.noteSuccess(campaign.ID)
	log.Printf("✅ sent to %s (message %s)", j.record.RecipientEmail, messageID)
}

func (e *Executor) noteFailure(campaignID string) {
	if e.MaxConsecutiveFailures <= 0 {
		return
	}

	e.mu.Lock()
	e.failures[campaignID]++
	n := e.failures[campaignID]
	e.mu.Unlock()

	if n < e.MaxConsecutiveFailures {
		return
	}

	changed, err := e.CampaignRepo.TransitionStatus(campaignID,
		model.TransitionSources(model.StatusStopped), model.StatusStopped)
	if err != nil {
		log.Printf("executor: cannot stop campaign %s: %v", campaignID, err)
		return
	}
	if changed {
		log.Printf("🛑 campaign %s stopped after %d consecutive failures", campaignID, n)
	}
}

func (e *Executor) noteSuccess(campaignID string) {
	e.mu.Lock()
	delete(e.failures, campaignID)
	e.mu.Unlock()
}
