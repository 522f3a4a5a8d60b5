package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/prospect-os/internal/models"
)

// EmailsRepository handles candidate contact addresses.
type EmailsRepository struct {
	pool *pgxpool.Pool
}

// NewEmailsRepository creates a new emails repository.
func NewEmailsRepository(pool *pgxpool.Pool) *EmailsRepository {
	return &EmailsRepository{pool: pool}
}

// Add stores candidates for a company. Addresses already known for the
// company are left untouched. Returns the number of new rows.
func (r *EmailsRepository) Add(ctx context.Context, companyID uuid.UUID, emails []models.CompanyEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, e := range emails {
		batch.Queue(`
			INSERT INTO company_emails (company_id, email, priority, source_page, is_valid)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (company_id, email) DO NOTHING
		`, companyID, e.Email, e.Priority, e.SourcePage, e.IsValid)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	added := 0
	for range emails {
		tag, err := br.Exec()
		if err != nil {
			return added, fmt.Errorf("add company email: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// ListByCompany returns a company's addresses, best priority first.
func (r *EmailsRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]models.CompanyEmail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, company_id, email, priority, source_page, is_valid, created_at
		FROM company_emails
		WHERE company_id = $1
		ORDER BY priority ASC, created_at ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list company emails: %w", err)
	}
	defer rows.Close()

	var out []models.CompanyEmail
	for rows.Next() {
		var e models.CompanyEmail
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Email, &e.Priority, &e.SourcePage, &e.IsValid, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BestValid returns the valid address with the best priority, or
// ErrNotFound when the company has none.
func (r *EmailsRepository) BestValid(ctx context.Context, companyID uuid.UUID) (*models.CompanyEmail, error) {
	var e models.CompanyEmail
	err := r.pool.QueryRow(ctx, `
		SELECT id, company_id, email, priority, source_page, is_valid, created_at
		FROM company_emails
		WHERE company_id = $1 AND is_valid
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
	`, companyID).Scan(&e.ID, &e.CompanyID, &e.Email, &e.Priority, &e.SourcePage, &e.IsValid, &e.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("best company email: %w", err)
	}
	return &e, nil
}
