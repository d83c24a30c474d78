// internal/service/analytics_service.go
package service

import (
	"math"
	"time"

	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/repository"
)

type AnalyticsService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TrackingRepo repository.TrackingRepositoryInterface
}

func NewAnalyticsService(campaigns repository.CampaignRepositoryInterface,
	tracking repository.TrackingRepositoryInterface) *AnalyticsService {
	return &AnalyticsService{CampaignRepo: campaigns, TrackingRepo: tracking}
}

type RecipientEngagement struct {
	TrackingID   string     `json:"tracking_id"`
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	Outcome      string     `json:"outcome"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Opens        int        `json:"opens"`
	FirstOpenAt  *time.Time `json:"first_open_at,omitempty"`
	Clicks       int        `json:"clicks"`
	FirstClickAt *time.Time `json:"first_click_at,omitempty"`
	Replied      bool       `json:"replied"`
	Unsubscribed bool       `json:"unsubscribed"`
	BounceReason string     `json:"bounce_reason,omitempty"`
}

type CampaignAnalytics struct {
	CampaignID      string `json:"campaign_id"`
	Status          string `json:"status"`
	TotalRecipients int    `json:"total_recipients"`

	TotalSent    int `json:"total_sent"`
	TotalPending int `json:"total_pending"`
	TotalBounced int `json:"total_bounced"`
	TotalErrored int `json:"total_errored"`

	UniqueOpens   int `json:"unique_opens"`
	TotalOpens    int `json:"total_opens"`
	UniqueClicks  int `json:"unique_clicks"`
	TotalClicks   int `json:"total_clicks"`
	Replies       int `json:"replies"`
	Unsubscribes  int `json:"unsubscribes"`

	OpenRate   float64 `json:"open_rate"`
	ClickRate  float64 `json:"click_rate"`
	ReplyRate  float64 `json:"reply_rate"`
	BounceRate float64 `json:"bounce_rate"`

	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	Recipients []RecipientEngagement `json:"recipients"`
}

// Aggregate computes the engagement rollup for a campaign. When since or
// until is non-nil only records sent inside that window count, and the
// bounce rate denominator switches from total recipients to attempted sends
// in the window.
func (s *AnalyticsService) Aggregate(campaignID string, since, until *time.Time) (*CampaignAnalytics, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	records, err := s.TrackingRepo.ListByCampaign(campaignID)
	if err != nil {
		return nil, err
	}

	windowed := since != nil || until != nil

	out := &CampaignAnalytics{
		CampaignID:      campaign.ID,
		Status:          string(campaign.Status),
		TotalRecipients: campaign.TotalRecipients,
		WindowStart:     since,
		WindowEnd:       until,
		Recipients:      []RecipientEngagement{},
	}

	attempted := 0
	for _, rec := range records {
		if windowed && !sentWithin(rec, since, until) {
			continue
		}

		switch rec.Outcome {
		case model.OutcomeSent:
			out.TotalSent++
		case model.OutcomePending:
			out.TotalPending++
		case model.OutcomeBounced:
			out.TotalBounced++
		case model.OutcomeAppError:
			out.TotalErrored++
		}
		if rec.SentAt != nil {
			attempted++
		}

		if rec.Opens > 0 {
			out.UniqueOpens++
			out.TotalOpens += rec.Opens
		}
		if rec.Clicks > 0 {
			out.UniqueClicks++
			out.TotalClicks += rec.Clicks
		}
		if rec.Replied {
			out.Replies++
		}
		if rec.Unsubscribed {
			out.Unsubscribes++
		}

		out.Recipients = append(out.Recipients, RecipientEngagement{
			TrackingID:   rec.TrackingID,
			Email:        rec.RecipientEmail,
			Name:         rec.RecipientName,
			Outcome:      string(rec.Outcome),
			SentAt:       rec.SentAt,
			Opens:        rec.Opens,
			FirstOpenAt:  rec.FirstOpenAt,
			Clicks:       rec.Clicks,
			FirstClickAt: rec.FirstClickAt,
			Replied:      rec.Replied,
			Unsubscribed: rec.Unsubscribed,
			BounceReason: rec.BounceReason,
		})
	}

	out.OpenRate = rate(out.UniqueOpens, out.TotalSent)
	out.ClickRate = rate(out.UniqueClicks, out.TotalSent)
	out.ReplyRate = rate(out.Replies, out.TotalSent)

	bounceDenominator := campaign.TotalRecipients
	if windowed {
		bounceDenominator = attempted
	}
	out.BounceRate = rate(out.TotalBounced, bounceDenominator)

	return out, nil
}

func sentWithin(rec *model.TrackingRecord, since, until *time.Time) bool {
	if rec.SentAt == nil {
		return false
	}
	if since != nil && rec.SentAt.Before(*since) {
		return false
	}
	if until != nil && rec.SentAt.After(*until) {
		return false
	}
	return true
}

// rate returns numerator over denominator as a percentage rounded to two
// decimals, 0 when the denominator is 0.
func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*100*100) / 100
}
