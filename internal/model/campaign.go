// internal/model/campaign.go
package model

import "time"

// Status is the campaign lifecycle state. Transitions are monotonic
// (scheduled -> active -> completed) with stopped as a terminal escape
// reachable from scheduled or active.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// CanTransition reports whether s -> to is a legal lifecycle move.
func (s Status) CanTransition(to Status) bool {
	switch to {
	case StatusStopped:
		return s == StatusScheduled || s == StatusActive
	case StatusActive:
		return s == StatusScheduled
	case StatusCompleted:
		return s == StatusActive
	}
	return false
}

// TransitionSources lists every state allowed to move to the given one.
// Compare-and-set status writes take their from-set from here, so the
// lifecycle rules above are the single definition of legal moves.
func TransitionSources(to Status) []Status {
	all := []Status{StatusScheduled, StatusActive, StatusCompleted, StatusStopped}
	out := make([]Status, 0, len(all))
	for _, s := range all {
		if s.CanTransition(to) {
			out = append(out, s)
		}
	}
	return out
}

type Campaign struct {
	ID                  string     `db:"id" json:"id"`
	Subject             string     `db:"subject" json:"subject"`
	BodyTemplate        string     `db:"body_template" json:"body_template"`
	MailboxRef          string     `db:"mailbox_ref" json:"mailbox_ref"`
	SenderEmail         string     `db:"sender_email" json:"sender_email"`
	Status              Status     `db:"status" json:"status"`
	StartTime           time.Time  `db:"start_time" json:"start_time"`
	DurationHours       int        `db:"duration_hours" json:"duration_hours"`
	SendIntervalMinutes int        `db:"send_interval_minutes" json:"send_interval_minutes"`
	TotalRecipients     int        `db:"total_recipients" json:"total_recipients"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// EndTime is the close of the dispatch window. No send may happen after it.
func (c *Campaign) EndTime() time.Time {
	return c.StartTime.Add(time.Duration(c.DurationHours) * time.Hour)
}

// SendInterval is the pacing gap between consecutive recipients.
func (c *Campaign) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMinutes) * time.Minute
}

// WithinWindow reports whether t falls inside [start_time, end_time].
func (c *Campaign) WithinWindow(t time.Time) bool {
	return !t.Before(c.StartTime) && !t.After(c.EndTime())
}
