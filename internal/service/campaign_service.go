// internal/service/campaign_service.go
package service

import (
	"log"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/coldpath/campaign-engine/internal/errors"
	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TrackingRepo repository.TrackingRepositoryInterface
	Schedule     ScheduleConfig
	Rand         *rand.Rand
	Now          func() time.Time
}

func NewCampaignService(campaigns repository.CampaignRepositoryInterface,
	tracking repository.TrackingRepositoryInterface, schedule ScheduleConfig) *CampaignService {
	return &CampaignService{
		CampaignRepo: campaigns,
		TrackingRepo: tracking,
		Schedule:     schedule,
		Rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:          time.Now,
	}
}

type CreateCampaignInput struct {
	Subject             string      `json:"subject" validate:"required"`
	BodyTemplate        string      `json:"body_template" validate:"required"`
	Recipients          []Recipient `json:"recipients" validate:"required,min=1"`
	StartTime           *time.Time  `json:"start_time"`
	DurationHours       int         `json:"duration_hours" validate:"omitempty,min=1"`
	SendIntervalMinutes int         `json:"send_interval_minutes" validate:"omitempty,min=1"`
	MailboxRef          string      `json:"mailbox_reference" validate:"required"`
	SenderEmail         string      `json:"sender_email" validate:"required,email"`
}

type ActiveCampaignSummary struct {
	CampaignID string    `json:"campaign_id"`
	Subject    string    `json:"subject"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

type CreateCampaignResult struct {
	CampaignID        string                  `json:"campaign_id"`
	Status            model.Status            `json:"status"`
	TotalRecipients   int                     `json:"total_recipients"`
	ScheduleOverflow  int                     `json:"schedule_overflow_count"`
	InvalidRecipients []string                `json:"invalid_recipients,omitempty"`
	UnsubscribedCount int                     `json:"unsubscribed_count"`
	Warning           string                  `json:"warning,omitempty"`
	ActiveCampaigns   []ActiveCampaignSummary `json:"active_campaigns,omitempty"`
}

// CreateCampaign validates the recipient list, builds the per-recipient send
// schedule and persists campaign plus tracking records atomically. An
// existing scheduled/active campaign on the same mailbox produces a
// non-fatal warning in the result, never an error.
func (s *CampaignService) CreateCampaign(input CreateCampaignInput) (*CreateCampaignResult, error) {
	now := s.Now().UTC()

	start := now
	if input.StartTime != nil {
		start = input.StartTime.UTC()
	}
	duration := input.DurationHours
	if duration <= 0 {
		duration = 24
	}
	interval := input.SendIntervalMinutes
	if interval <= 0 {
		interval = 5
	}

	unsubscribed, err := s.unsubscribedSet()
	if err != nil {
		return nil, err
	}

	valid := make([]Recipient, 0, len(input.Recipients))
	invalid := []string{}
	suppressed := []string{}
	for _, r := range input.Recipients {
		email := strings.TrimSpace(r.Email)
		if !emailPattern.MatchString(email) {
			invalid = append(invalid, email)
			continue
		}
		if unsubscribed[strings.ToLower(email)] {
			suppressed = append(suppressed, email)
			continue
		}
		valid = append(valid, Recipient{Name: strings.TrimSpace(r.Name), Email: email})
	}

	if len(valid) == 0 {
		return nil, &appErrors.ErrNoValidRecipients{Invalid: invalid, Unsubscribed: suppressed}
	}

	status := model.StatusScheduled
	if !start.After(now) {
		status = model.StatusActive
	}

	campaign := &model.Campaign{
		ID:                  uuid.NewString(),
		Subject:             input.Subject,
		BodyTemplate:        input.BodyTemplate,
		MailboxRef:          input.MailboxRef,
		SenderEmail:         input.SenderEmail,
		Status:              status,
		StartTime:           start,
		DurationHours:       duration,
		SendIntervalMinutes: interval,
		TotalRecipients:     len(valid),
		CreatedAt:           now,
	}

	// Collect the warning before inserting so the new campaign doesn't list
	// itself.
	active, err := s.CampaignRepo.ListActiveForMailbox(input.MailboxRef)
	if err != nil {
		return nil, err
	}

	records := BuildSchedule(campaign, valid, s.Schedule, s.Rand)
	if err := s.CampaignRepo.CreateWithRecords(campaign, records); err != nil {
		return nil, err
	}

	overflow := 0
	for _, rec := range records {
		if rec.Outcome == model.OutcomeAppError {
			overflow++
		}
	}
	if overflow > 0 {
		log.Printf("⚠️ campaign %s: %d recipient(s) fall past the dispatch window", campaign.ID, overflow)
	}

	result := &CreateCampaignResult{
		CampaignID:        campaign.ID,
		Status:            status,
		TotalRecipients:   len(valid),
		ScheduleOverflow:  overflow,
		InvalidRecipients: invalid,
		UnsubscribedCount: len(suppressed),
	}

	if len(active) > 0 {
		summaries := make([]ActiveCampaignSummary, 0, len(active))
		for _, c := range active {
			summaries = append(summaries, ActiveCampaignSummary{
				CampaignID: c.ID,
				Subject:    c.Subject,
				StartTime:  c.StartTime,
				EndTime:    c.EndTime(),
			})
		}
		result.ActiveCampaigns = summaries
		result.Warning = "mailbox already has an active campaign; running several at once may trigger provider rate limits"
	}

	return result, nil
}

// StopCampaign moves a campaign to the terminal stopped state. Idempotent:
// stopping an already stopped or completed campaign is a no-op that reports
// the current status.
func (s *CampaignService) StopCampaign(id string) (model.Status, error) {
	changed, err := s.CampaignRepo.TransitionStatus(id,
		model.TransitionSources(model.StatusStopped), model.StatusStopped)
	if err != nil {
		return "", err
	}
	if changed {
		log.Printf("🛑 campaign %s stopped", id)
		return model.StatusStopped, nil
	}

	campaign, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return "", err
	}
	return campaign.Status, nil
}

type CampaignStatusSnapshot struct {
	CampaignID      string         `json:"campaign_id"`
	Status          model.Status   `json:"status"`
	TotalRecipients int            `json:"total_recipients"`
	Counts          map[string]int `json:"counts"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
}

// CampaignStatus returns the lifecycle status plus live outcome counts,
// cheap enough for short-polling callers.
func (s *CampaignService) CampaignStatus(id string) (*CampaignStatusSnapshot, error) {
	campaign, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return nil, err
	}

	counts, err := s.TrackingRepo.CountByOutcome(id)
	if err != nil {
		return nil, err
	}

	named := make(map[string]int, len(counts))
	for outcome, n := range counts {
		named[string(outcome)] = n
	}

	return &CampaignStatusSnapshot{
		CampaignID:      campaign.ID,
		Status:          campaign.Status,
		TotalRecipients: campaign.TotalRecipients,
		Counts:          named,
		StartTime:       campaign.StartTime,
		EndTime:         campaign.EndTime(),
	}, nil
}

// GetCampaign fetches a campaign by ID.
func (s *CampaignService) GetCampaign(id string) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(id)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) unsubscribedSet() (map[string]bool, error) {
	emails, err := s.TrackingRepo.ListUnsubscribedEmails()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(emails))
	for _, e := range emails {
		set[strings.ToLower(e)] = true
	}
	return set, nil
}
