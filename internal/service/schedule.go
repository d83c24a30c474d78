// internal/service/schedule.go
package service

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/coldpath/campaign-engine/internal/model"
)

const scheduleOverflowReason = "schedule overflow: send time exceeds campaign window"

// Recipient is one validated entry from the submitted recipient list.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
}

// ScheduleConfig bounds the random offset added to each base send time so
// sends don't land on an exact provider-visible grid.
type ScheduleConfig struct {
	JitterMin time.Duration
	JitterMax time.Duration
}

// BuildSchedule assigns every recipient a tracking ID and a concrete send
// time: start_time + i*send_interval, plus bounded jitter. A recipient whose
// base time falls past end_time is marked application_error up front rather
// than queued, so the overflow is counted instead of silently pending.
// Jitter is clamped to end_time and never creates an overflow by itself.
func BuildSchedule(c *model.Campaign, recipients []Recipient, cfg ScheduleConfig, rng *rand.Rand) []*model.TrackingRecord {
	interval := c.SendInterval()
	end := c.EndTime()

	records := make([]*model.TrackingRecord, 0, len(recipients))
	for i, r := range recipients {
		base := c.StartTime.Add(time.Duration(i) * interval)

		rec := &model.TrackingRecord{
			TrackingID:      uuid.NewString(),
			CampaignID:      c.ID,
			RecipientEmail:  r.Email,
			RecipientName:   r.Name,
			ScheduledSendAt: base,
			Outcome:         model.OutcomePending,
		}

		if base.After(end) {
			rec.Outcome = model.OutcomeAppError
			rec.ErrorReason = scheduleOverflowReason
		} else if cfg.JitterMax > 0 {
			jittered := base.Add(jitter(cfg, rng))
			if jittered.After(end) {
				jittered = end
			}
			rec.ScheduledSendAt = jittered
		}

		records = append(records, rec)
	}
	return records
}

func jitter(cfg ScheduleConfig, rng *rand.Rand) time.Duration {
	min, max := cfg.JitterMin, cfg.JitterMax
	if min < 0 {
		min = 0
	}
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}
