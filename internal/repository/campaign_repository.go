package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/coldpath/campaign-engine/internal/errors"
	"github.com/coldpath/campaign-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	CreateWithRecords(c *model.Campaign, records []*model.TrackingRecord) error
	GetByID(id string) (*model.Campaign, error)
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
	ListByStatus(statuses ...model.Status) ([]*model.Campaign, error)
	ListActiveForMailbox(mailboxRef string) ([]*model.Campaign, error)

	// TransitionStatus is the single compare-and-set mutation point for
	// campaign status. It reports whether a row actually changed.
	TransitionStatus(id string, from []model.Status, to model.Status) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, subject, body_template, mailbox_ref, sender_email, status,
        start_time, duration_hours, send_interval_minutes, total_recipients,
        created_at, updated_at, completed_at`

// CreateWithRecords inserts a campaign and all of its tracking records in one
// transaction, so a campaign is never visible without its recipient set.
func (r *CampaignRepository) CreateWithRecords(c *model.Campaign, records []*model.TrackingRecord) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.StatusScheduled
	}

	_, err = tx.Exec(`
        INSERT INTO campaigns (id, subject, body_template, mailbox_ref, sender_email, status,
            start_time, duration_hours, send_interval_minutes, total_recipients, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, c.ID, c.Subject, c.BodyTemplate, c.MailboxRef, c.SenderEmail, c.Status,
		c.StartTime, c.DurationHours, c.SendIntervalMinutes, c.TotalRecipients, c.CreatedAt)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
        INSERT INTO tracking_records (tracking_id, campaign_id, recipient_email, recipient_name,
            scheduled_send_at, outcome, error_reason)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(rec.TrackingID, rec.CampaignID, rec.RecipientEmail,
			rec.RecipientName, rec.ScheduledSendAt, rec.Outcome, rec.ErrorReason); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) ListByStatus(statuses ...model.Status) ([]*model.Campaign, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.DB.Query(
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ANY($1) ORDER BY start_time`,
		pq.Array(names),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListActiveForMailbox returns campaigns for the mailbox that are still
// scheduled or active, used to warn a caller starting an overlapping one.
func (r *CampaignRepository) ListActiveForMailbox(mailboxRef string) ([]*model.Campaign, error) {
	rows, err := r.DB.Query(
		`SELECT `+campaignColumns+` FROM campaigns
         WHERE mailbox_ref=$1 AND status = ANY($2) ORDER BY start_time`,
		mailboxRef, pq.Array([]string{string(model.StatusScheduled), string(model.StatusActive)}),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) TransitionStatus(id string, from []model.Status, to model.Status) (bool, error) {
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}

	res, err := r.DB.Exec(`
        UPDATE campaigns
        SET status=$1,
            updated_at=NOW(),
            completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
        WHERE id=$2 AND status = ANY($3)
    `, to, id, pq.Array(names))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Subject, &c.BodyTemplate, &c.MailboxRef, &c.SenderEmail,
		&c.Status, &c.StartTime, &c.DurationHours, &c.SendIntervalMinutes,
		&c.TotalRecipients, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
