package api

import (
	"github.com/google/uuid"

	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/referential"
	"github.com/blockedby/prospect-os/internal/sirene"
)

// ============================================================================
// Common Types
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status" example:"ok" description:"Health status"`
	Version string `json:"version" example:"dev" description:"Application version"`
}

// ============================================================================
// Companies Types
// ============================================================================

// SearchResponse is one diversified sample of registry companies.
type SearchResponse struct {
	Companies   []models.Company `json:"companies" description:"Shuffled sample, at most the requested count"`
	Count       int              `json:"count" description:"Number of companies returned"`
	Requested   int              `json:"requested" description:"Requested count"`
	Fetched     int              `json:"fetched" description:"Size of the pool before exclusion"`
	Excluded    int              `json:"excluded" description:"Companies removed because already contacted"`
	FailedPages int              `json:"failed_pages" description:"Registry pages that could not be fetched"`
	Plan        sirene.Plan      `json:"plan" description:"Pool size and pages requested"`
	Location    *location.Result `json:"location,omitempty" description:"How the location filter was resolved"`
}

// SaveCompaniesRequest persists companies picked from a search.
type SaveCompaniesRequest struct {
	Companies []models.Company `json:"companies" validate:"required,min=1" description:"Companies to upsert (keyed by siret)"`
}

// SaveCompaniesResponse reports what was stored.
type SaveCompaniesResponse struct {
	Saved   int         `json:"saved" description:"Number of companies stored"`
	IDs     []uuid.UUID `json:"ids" description:"Stored company IDs, in request order"`
	Skipped []string    `json:"skipped,omitempty" description:"Names of companies rejected for a missing siret"`
}

// CompaniesListResponse is one page of stored companies.
type CompaniesListResponse struct {
	Companies []models.Company `json:"companies"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// EmailsResponse lists the known addresses of a company.
type EmailsResponse struct {
	CompanyID uuid.UUID             `json:"company_id"`
	Emails    []models.CompanyEmail `json:"emails"`
}

// ============================================================================
// Campaigns Types
// ============================================================================

// CampaignResponse is a campaign with its dispatch state.
type CampaignResponse struct {
	models.Campaign
	Running bool `json:"running" description:"Whether a run is in progress"`
}

// CampaignsListResponse lists campaigns.
type CampaignsListResponse struct {
	Campaigns []CampaignResponse `json:"campaigns"`
}

// StopCampaignResponse confirms a cancellation.
type StopCampaignResponse struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Stopped    bool      `json:"stopped"`
}

// ============================================================================
// Constants Types
// ============================================================================

// SectorsResponse lists activity families and their APE codes.
type SectorsResponse struct {
	Sectors []referential.SectorGroup `json:"sectors"`
}

// BracketsResponse lists headcount brackets and size classes.
type BracketsResponse struct {
	Brackets []referential.Bracket   `json:"brackets"`
	Classes  []referential.SizeClass `json:"classes"`
}

// CitiesResponse lists the cities and districts known to the resolver.
type CitiesResponse struct {
	Cities    []location.City `json:"cities"`
	Districts []location.City `json:"districts"`
}

// ============================================================================
// Profile & Settings Types
// ============================================================================

// ProfileRequest updates the sender profile.
type ProfileRequest struct {
	FullName  string `json:"prenom_nom" description:"Full name"`
	Phone     string `json:"telephone"`
	LinkedIn  string `json:"linkedin"`
	School    string `json:"ecole"`
	Degree    string `json:"formation"`
	DefaultCV string `json:"default_cv,omitempty" description:"Path returned by POST /uploads"`
}

// EmailConfigRequest sets the SMTP relay. The password is kept in memory
// only and never returned.
type EmailConfigRequest struct {
	Provider    string `json:"type" example:"gmail" description:"gmail, outlook or custom"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	From        string `json:"from,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	ImplicitTLS bool   `json:"implicit_tls,omitempty"`
}

// EmailConfigResponse shows the active relay without secrets.
type EmailConfigResponse struct {
	Configured  bool   `json:"configured"`
	Provider    string `json:"type,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Username    string `json:"username,omitempty"`
	From        string `json:"from,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	ImplicitTLS bool   `json:"implicit_tls"`
}

// EmailTestResponse reports a relay check.
type EmailTestResponse struct {
	Success bool   `json:"success"`
	Host    string `json:"host,omitempty"`
	Error   string `json:"error,omitempty"`
}
