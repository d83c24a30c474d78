package repository

import (
	"database/sql"
	"time"

	"github.com/coldpath/campaign-engine/internal/model"
)

type TrackingRepositoryInterface interface {
	GetByTrackingID(trackingID string) (*model.TrackingRecord, error)
	ListByCampaign(campaignID string) ([]*model.TrackingRecord, error)
	ListDue(campaignID string, now time.Time) ([]*model.TrackingRecord, error)
	CountByOutcome(campaignID string) (map[model.Outcome]int, error)
	ListUnsubscribedEmails() ([]string, error)

	// Outcome transitions. Each is a guarded single-statement update so the
	// pending -> sent / pending -> application_error / sent -> bounced moves
	// happen at most once; the bool reports whether the row flipped.
	MarkSent(trackingID string, at time.Time) (bool, error)
	MarkApplicationError(trackingID, reason string, at time.Time) (bool, error)
	MarkBounced(trackingID, reason string, at time.Time) (bool, error)

	// Engagement counters. Increments are atomic in SQL; the first writer
	// wins the first_*_at timestamp via COALESCE.
	RecordOpen(trackingID string, at time.Time) (bool, error)
	RecordClick(trackingID string, at time.Time) (bool, error)
	MarkReplied(trackingID string, at time.Time) (bool, error)
	MarkUnsubscribed(trackingID string, at time.Time) (bool, error)
}

type TrackingRepository struct {
	DB *sql.DB
}

const trackingColumns = `tracking_id, campaign_id, recipient_email, recipient_name,
        scheduled_send_at, sent_at, outcome, COALESCE(error_reason, ''), error_at,
        opens, first_open_at, clicks, first_click_at,
        replied, replied_at, unsubscribed, unsubscribed_at,
        COALESCE(bounce_reason, ''), bounce_at`

func (r *TrackingRepository) GetByTrackingID(trackingID string) (*model.TrackingRecord, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking_records WHERE tracking_id=$1`
	rec, err := scanTrackingRecord(r.DB.QueryRow(query, trackingID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *TrackingRepository) ListByCampaign(campaignID string) ([]*model.TrackingRecord, error) {
	rows, err := r.DB.Query(
		`SELECT `+trackingColumns+` FROM tracking_records WHERE campaign_id=$1 ORDER BY scheduled_send_at`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.TrackingRecord{}
	for rows.Next() {
		rec, err := scanTrackingRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *TrackingRepository) ListDue(campaignID string, now time.Time) ([]*model.TrackingRecord, error) {
	rows, err := r.DB.Query(
		`SELECT `+trackingColumns+` FROM tracking_records
         WHERE campaign_id=$1 AND outcome='pending' AND scheduled_send_at <= $2
         ORDER BY scheduled_send_at`,
		campaignID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.TrackingRecord{}
	for rows.Next() {
		rec, err := scanTrackingRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *TrackingRepository) CountByOutcome(campaignID string) (map[model.Outcome]int, error) {
	rows, err := r.DB.Query(
		`SELECT outcome, COUNT(*) FROM tracking_records WHERE campaign_id=$1 GROUP BY outcome`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.Outcome]int{
		model.OutcomePending:  0,
		model.OutcomeSent:     0,
		model.OutcomeBounced:  0,
		model.OutcomeAppError: 0,
	}
	for rows.Next() {
		var outcome model.Outcome
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[outcome] = count
	}
	return counts, rows.Err()
}

func (r *TrackingRepository) ListUnsubscribedEmails() ([]string, error) {
	rows, err := r.DB.Query(
		`SELECT DISTINCT LOWER(recipient_email) FROM tracking_records WHERE unsubscribed`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (r *TrackingRepository) MarkSent(trackingID string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET outcome='sent', sent_at=$2, error_reason=NULL
        WHERE tracking_id=$1 AND outcome='pending'
    `, trackingID, at)
}

func (r *TrackingRepository) MarkApplicationError(trackingID, reason string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET outcome='application_error', error_reason=$2, error_at=$3
        WHERE tracking_id=$1 AND outcome='pending'
    `, trackingID, reason, at)
}

func (r *TrackingRepository) MarkBounced(trackingID, reason string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET outcome='bounced', bounce_reason=$2, bounce_at=$3
        WHERE tracking_id=$1 AND outcome='sent'
    `, trackingID, reason, at)
}

func (r *TrackingRepository) RecordOpen(trackingID string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET opens = opens + 1, first_open_at = COALESCE(first_open_at, $2)
        WHERE tracking_id=$1
    `, trackingID, at)
}

func (r *TrackingRepository) RecordClick(trackingID string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET clicks = clicks + 1, first_click_at = COALESCE(first_click_at, $2)
        WHERE tracking_id=$1
    `, trackingID, at)
}

func (r *TrackingRepository) MarkReplied(trackingID string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET replied=TRUE, replied_at = COALESCE(replied_at, $2)
        WHERE tracking_id=$1 AND NOT replied
    `, trackingID, at)
}

func (r *TrackingRepository) MarkUnsubscribed(trackingID string, at time.Time) (bool, error) {
	return r.execFlipped(`
        UPDATE tracking_records SET unsubscribed=TRUE, unsubscribed_at = COALESCE(unsubscribed_at, $2)
        WHERE tracking_id=$1 AND NOT unsubscribed
    `, trackingID, at)
}

func (r *TrackingRepository) execFlipped(query string, args ...interface{}) (bool, error) {
	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanTrackingRecord(row rowScanner) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	err := row.Scan(&rec.TrackingID, &rec.CampaignID, &rec.RecipientEmail, &rec.RecipientName,
		&rec.ScheduledSendAt, &rec.SentAt, &rec.Outcome, &rec.ErrorReason, &rec.ErrorAt,
		&rec.Opens, &rec.FirstOpenAt, &rec.Clicks, &rec.FirstClickAt,
		&rec.Replied, &rec.RepliedAt, &rec.Unsubscribed, &rec.UnsubscribedAt,
		&rec.BounceReason, &rec.BounceAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ TrackingRepositoryInterface = (*TrackingRepository)(nil)
