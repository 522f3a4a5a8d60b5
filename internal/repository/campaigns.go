package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/prospect-os/internal/models"
)

const campaignColumns = `
	id, name, subject_template, body_template, attachment,
	per_day_cap, delay_seconds, status, created_at, updated_at`

// CampaignsRepository handles campaigns and their delivery log.
type CampaignsRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignsRepository creates a new campaigns repository.
func NewCampaignsRepository(pool *pgxpool.Pool) *CampaignsRepository {
	return &CampaignsRepository{pool: pool}
}

// Create inserts a draft campaign.
func (r *CampaignsRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.Status == "" {
		c.Status = models.CampaignStatusDraft
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (name, subject_template, body_template, attachment,
		                       per_day_cap, delay_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, c.Name, c.SubjectTemplate, c.BodyTemplate, c.Attachment,
		c.PerDayCap, c.DelaySeconds, string(c.Status),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign or ErrNotFound.
func (r *CampaignsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns, newest first.
func (r *CampaignsRepository) List(ctx context.Context) ([]models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Advance moves a campaign forward to next. The enum order makes the
// comparison enforce draft < active < completed, so backward or repeated
// transitions update nothing and report false.
func (r *CampaignsRepository) Advance(ctx context.Context, id uuid.UUID, next models.CampaignStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns
		SET status = $2::campaign_status, updated_at = NOW()
		WHERE id = $1 AND status < $2::campaign_status
	`, id, string(next))
	if err != nil {
		return false, fmt.Errorf("advance campaign: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordOutcomes appends one sent_emails row per outcome, in order.
func (r *CampaignsRepository) RecordOutcomes(ctx context.Context, outcomes []models.SendOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		var companyID *uuid.UUID
		if o.Job.CompanyID != uuid.Nil {
			id := o.Job.CompanyID
			companyID = &id
		}
		batch.Queue(`
			INSERT INTO sent_emails (campaign_id, company_id, email, subject, status, message_id, error, sent_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		`, o.Job.CampaignID, companyID, o.Job.To, o.Job.Subject,
			string(models.StatusOf(o)), o.MessageID, o.Error, o.SentAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range outcomes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	}
	return nil
}

// Stats counts delivery outcomes for a campaign.
func (r *CampaignsRepository) Stats(ctx context.Context, id uuid.UUID) (*models.CampaignStats, error) {
	stats := &models.CampaignStats{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'sent' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END)
		FROM sent_emails
		WHERE campaign_id = $1
	`, id).Scan(&stats.Total, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	return stats, nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.SubjectTemplate, &c.BodyTemplate, &c.Attachment,
		&c.PerDayCap, &c.DelaySeconds, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.CampaignStatus(status)
	return &c, nil
}
