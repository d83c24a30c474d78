package service_test

import (
	"strings"
	"sync"
	"time"

	appErrors "github.com/coldpath/campaign-engine/internal/errors"
	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/repository"
)

// In-memory repositories backing the service tests. Guarded updates mirror
// the SQL ones: each transition checks the current state before flipping.

type fakeStore struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	records   map[string]*model.TrackingRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: make(map[string]*model.Campaign),
		records:   make(map[string]*model.TrackingRecord),
	}
}

type fakeCampaignRepo struct{ store *fakeStore }
type fakeTrackingRepo struct{ store *fakeStore }

var _ repository.CampaignRepositoryInterface = (*fakeCampaignRepo)(nil)
var _ repository.TrackingRepositoryInterface = (*fakeTrackingRepo)(nil)

func (r *fakeCampaignRepo) CreateWithRecords(c *model.Campaign, records []*model.TrackingRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	r.store.campaigns[c.ID] = &cp
	for _, rec := range records {
		rp := *rec
		r.store.records[rec.TrackingID] = &rp
	}
	return nil
}

func (r *fakeCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	matched := []*model.Campaign{}
	for _, c := range r.store.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	total := len(matched)
	if offset >= len(matched) {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeCampaignRepo) ListByStatus(statuses ...model.Status) ([]*model.Campaign, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.store.campaigns {
		for _, s := range statuses {
			if c.Status == s {
				cp := *c
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListActiveForMailbox(mailboxRef string) ([]*model.Campaign, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.store.campaigns {
		if c.MailboxRef == mailboxRef &&
			(c.Status == model.StatusActive || c.Status == model.StatusScheduled) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) TransitionStatus(id string, from []model.Status, to model.Status) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			now := time.Now().UTC()
			c.UpdatedAt = &now
			if to == model.StatusCompleted {
				c.CompletedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTrackingRepo) GetByTrackingID(trackingID string) (*model.TrackingRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok {
		return nil, nil
	}
	rp := *rec
	return &rp, nil
}

func (r *fakeTrackingRepo) ListByCampaign(campaignID string) ([]*model.TrackingRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []*model.TrackingRecord{}
	for _, rec := range r.store.records {
		if rec.CampaignID == campaignID {
			rp := *rec
			out = append(out, &rp)
		}
	}
	sortBySchedule(out)
	return out, nil
}

func (r *fakeTrackingRepo) ListDue(campaignID string, now time.Time) ([]*model.TrackingRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []*model.TrackingRecord{}
	for _, rec := range r.store.records {
		if rec.CampaignID == campaignID && rec.Outcome == model.OutcomePending && !rec.ScheduledSendAt.After(now) {
			rp := *rec
			out = append(out, &rp)
		}
	}
	sortBySchedule(out)
	return out, nil
}

func (r *fakeTrackingRepo) CountByOutcome(campaignID string) (map[model.Outcome]int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	counts := map[model.Outcome]int{
		model.OutcomePending:  0,
		model.OutcomeSent:     0,
		model.OutcomeBounced:  0,
		model.OutcomeAppError: 0,
	}
	for _, rec := range r.store.records {
		if rec.CampaignID == campaignID {
			counts[rec.Outcome]++
		}
	}
	return counts, nil
}

func (r *fakeTrackingRepo) ListUnsubscribedEmails() ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, rec := range r.store.records {
		if rec.Unsubscribed {
			email := strings.ToLower(rec.RecipientEmail)
			if !seen[email] {
				seen[email] = true
				out = append(out, email)
			}
		}
	}
	return out, nil
}

func (r *fakeTrackingRepo) MarkSent(trackingID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok || rec.Outcome != model.OutcomePending {
		return false, nil
	}
	rec.Outcome = model.OutcomeSent
	sentAt := at
	rec.SentAt = &sentAt
	rec.ErrorReason = ""
	return true, nil
}

func (r *fakeTrackingRepo) MarkApplicationError(trackingID, reason string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok || rec.Outcome != model.OutcomePending {
		return false, nil
	}
	rec.Outcome = model.OutcomeAppError
	rec.ErrorReason = reason
	errAt := at
	rec.ErrorAt = &errAt
	return true, nil
}

func (r *fakeTrackingRepo) MarkBounced(trackingID, reason string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok || rec.Outcome != model.OutcomeSent {
		return false, nil
	}
	rec.Outcome = model.OutcomeBounced
	rec.BounceReason = reason
	bounceAt := at
	rec.BounceAt = &bounceAt
	return true, nil
}

func (r *fakeTrackingRepo) RecordOpen(trackingID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok {
		return false, nil
	}
	rec.Opens++
	if rec.FirstOpenAt == nil {
		first := at
		rec.FirstOpenAt = &first
	}
	return true, nil
}

func (r *fakeTrackingRepo) RecordClick(trackingID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok {
		return false, nil
	}
	rec.Clicks++
	if rec.FirstClickAt == nil {
		first := at
		rec.FirstClickAt = &first
	}
	return true, nil
}

func (r *fakeTrackingRepo) MarkReplied(trackingID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok || rec.Replied {
		return false, nil
	}
	rec.Replied = true
	repliedAt := at
	rec.RepliedAt = &repliedAt
	return true, nil
}

func (r *fakeTrackingRepo) MarkUnsubscribed(trackingID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[trackingID]
	if !ok || rec.Unsubscribed {
		return false, nil
	}
	rec.Unsubscribed = true
	unsubAt := at
	rec.UnsubscribedAt = &unsubAt
	return true, nil
}

func sortBySchedule(records []*model.TrackingRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].ScheduledSendAt.Before(records[j-1].ScheduledSendAt); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
