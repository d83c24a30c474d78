// internal/model/tracking_record.go
package model

import "time"

// Outcome is the delivery result for one recipient. Exactly one applies at
// any time: pending -> sent or pending -> application_error happen once,
// and sent -> bounced is the only post-send flip.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeSent     Outcome = "sent"
	OutcomeBounced  Outcome = "bounced"
	OutcomeAppError Outcome = "application_error"
)

type TrackingRecord struct {
	TrackingID      string     `db:"tracking_id" json:"tracking_id"`
	CampaignID      string     `db:"campaign_id" json:"campaign_id"`
	RecipientEmail  string     `db:"recipient_email" json:"recipient_email"`
	RecipientName   string     `db:"recipient_name" json:"recipient_name"`
	ScheduledSendAt time.Time  `db:"scheduled_send_at" json:"scheduled_send_at"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	Outcome         Outcome    `db:"outcome" json:"outcome"`
	ErrorReason     string     `db:"error_reason" json:"error_reason,omitempty"`
	ErrorAt         *time.Time `db:"error_at" json:"error_at,omitempty"`
	Opens           int        `db:"opens" json:"opens"`
	FirstOpenAt     *time.Time `db:"first_open_at" json:"first_open_at,omitempty"`
	Clicks          int        `db:"clicks" json:"clicks"`
	FirstClickAt    *time.Time `db:"first_click_at" json:"first_click_at,omitempty"`
	Replied         bool       `db:"replied" json:"replied"`
	RepliedAt       *time.Time `db:"replied_at" json:"replied_at,omitempty"`
	Unsubscribed    bool       `db:"unsubscribed" json:"unsubscribed"`
	UnsubscribedAt  *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	BounceReason    string     `db:"bounce_reason" json:"bounce_reason,omitempty"`
	BounceAt        *time.Time `db:"bounce_at" json:"bounce_at,omitempty"`
}
