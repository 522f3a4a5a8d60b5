// Package models defines shared data types for the application.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is a registry record normalized into the canonical shape used by
// search, persistence and campaigns. Siren is the deduplication key.
type Company struct {
	ID uuid.UUID `json:"id,omitempty" db:"id"`

	// registry identifiers: siren is the legal unit, siret the establishment
	Siren string `json:"siren" db:"siren"`
	Siret string `json:"siret" db:"siret"`

	Name           string `json:"nom" db:"name"`
	CommercialName string `json:"nom_commercial,omitempty" db:"commercial_name"`

	// postal address
	Address    string `json:"adresse,omitempty" db:"address"`
	PostalCode string `json:"code_postal,omitempty" db:"postal_code"`
	City       string `json:"ville,omitempty" db:"city"`

	// activity
	SectorCode  string `json:"code_ape,omitempty" db:"sector_code"`
	SectorLabel string `json:"libelle_ape,omitempty" db:"sector_label"`

	// headcount
	BracketCode  string `json:"effectif_code,omitempty" db:"bracket_code"`
	BracketLabel string `json:"effectif,omitempty" db:"bracket_label"`

	AdministrativeStatus string `json:"etat_administratif,omitempty" db:"administrative_status"`
	LegalNature          string `json:"nature_juridique,omitempty" db:"legal_nature"`
	Category             string `json:"categorie_entreprise,omitempty" db:"category"`
	CreatedOn            string `json:"date_creation,omitempty" db:"created_on"`
	EstablishmentCount   int    `json:"nombre_etablissements,omitempty" db:"establishment_count"`

	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`

	// leadership
	LeaderLastName   *string `json:"dirigeant_nom,omitempty" db:"leader_last_name"`
	LeaderFirstNames *string `json:"dirigeant_prenoms,omitempty" db:"leader_first_names"`
	LeaderRole       *string `json:"dirigeant_fonction,omitempty" db:"leader_role"`

	WebsiteURL *string `json:"website_url,omitempty" db:"website_url"`

	RegistryUpdatedAt string    `json:"date_mise_a_jour,omitempty" db:"registry_updated_at"`
	CreatedAt         time.Time `json:"created_at,omitempty" db:"created_at"`
}

// CanBlacklist reports whether the record carries the identifier required to
// record it as contacted.
func (c *Company) CanBlacklist() bool {
	return c.Siren != ""
}

// CompanyEmail is a candidate contact address for a company.
type CompanyEmail struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CompanyID  uuid.UUID `json:"company_id" db:"company_id"`
	Email      string    `json:"email" db:"email"`
	Priority   int       `json:"priority" db:"priority"` // 1 is best
	SourcePage string    `json:"source_page,omitempty" db:"source_page"`
	IsValid    bool      `json:"is_valid" db:"is_valid"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
