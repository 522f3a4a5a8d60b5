package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/prospect-os/internal/models"
)

// ErrMissingSiret rejects records that cannot be keyed on an establishment.
var ErrMissingSiret = errors.New("company has no siret")

const companyColumns = `
	id, siren, siret, name, commercial_name, address, postal_code, city,
	sector_code, sector_label, bracket_code, bracket_label,
	administrative_status, legal_nature, category, created_on, establishment_count,
	latitude, longitude, leader_last_name, leader_first_names, leader_role,
	website_url, registry_updated_at, created_at`

// CompaniesRepository handles the companies table.
type CompaniesRepository struct {
	pool *pgxpool.Pool
}

// NewCompaniesRepository creates a new companies repository.
func NewCompaniesRepository(pool *pgxpool.Pool) *CompaniesRepository {
	return &CompaniesRepository{pool: pool}
}

// Save inserts a company or refreshes the registry fields of the existing
// row with the same siret. A website already found is kept.
func (r *CompaniesRepository) Save(ctx context.Context, c *models.Company) error {
	if c.Siret == "" {
		return ErrMissingSiret
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO companies (
			siren, siret, name, commercial_name, address, postal_code, city,
			sector_code, sector_label, bracket_code, bracket_label,
			administrative_status, legal_nature, category, created_on, establishment_count,
			latitude, longitude, leader_last_name, leader_first_names, leader_role,
			website_url, registry_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (siret) DO UPDATE SET
			name = EXCLUDED.name,
			commercial_name = EXCLUDED.commercial_name,
			address = EXCLUDED.address,
			postal_code = EXCLUDED.postal_code,
			city = EXCLUDED.city,
			sector_code = EXCLUDED.sector_code,
			sector_label = EXCLUDED.sector_label,
			bracket_code = EXCLUDED.bracket_code,
			bracket_label = EXCLUDED.bracket_label,
			administrative_status = EXCLUDED.administrative_status,
			establishment_count = EXCLUDED.establishment_count,
			website_url = COALESCE(companies.website_url, EXCLUDED.website_url),
			registry_updated_at = EXCLUDED.registry_updated_at
		RETURNING id, created_at
	`, c.Siren, c.Siret, c.Name, c.CommercialName, c.Address, c.PostalCode, c.City,
		c.SectorCode, c.SectorLabel, c.BracketCode, c.BracketLabel,
		c.AdministrativeStatus, c.LegalNature, c.Category, c.CreatedOn, c.EstablishmentCount,
		c.Latitude, c.Longitude, c.LeaderLastName, c.LeaderFirstNames, c.LeaderRole,
		c.WebsiteURL, c.RegistryUpdatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save company: %w", err)
	}
	return nil
}

// GetByID returns a company or ErrNotFound.
func (r *CompaniesRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	c, err := scanCompany(row)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

// GetByIDs returns the companies found among ids, in the order of ids.
func (r *CompaniesRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get companies: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.Company, len(ids))
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		byID[c.ID] = *c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}

	out := make([]models.Company, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// List returns saved companies, newest first.
func (r *CompaniesRepository) List(ctx context.Context, limit, offset int) ([]models.Company, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var out []models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetWebsite records the website found for a company.
func (r *CompaniesRepository) SetWebsite(ctx context.Context, id uuid.UUID, website string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE companies SET website_url = $2 WHERE id = $1`, id, website)
	if err != nil {
		return fmt.Errorf("set website: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	err := row.Scan(
		&c.ID, &c.Siren, &c.Siret, &c.Name, &c.CommercialName, &c.Address, &c.PostalCode, &c.City,
		&c.SectorCode, &c.SectorLabel, &c.BracketCode, &c.BracketLabel,
		&c.AdministrativeStatus, &c.LegalNature, &c.Category, &c.CreatedOn, &c.EstablishmentCount,
		&c.Latitude, &c.Longitude, &c.LeaderLastName, &c.LeaderFirstNames, &c.LeaderRole,
		&c.WebsiteURL, &c.RegistryUpdatedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
