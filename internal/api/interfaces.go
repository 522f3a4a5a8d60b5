package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/blockedby/prospect-os/internal/discovery"
	"github.com/blockedby/prospect-os/internal/dispatcher"
	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/mailer"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/publisher"
	"github.com/blockedby/prospect-os/internal/referential"
	"github.com/blockedby/prospect-os/internal/sirene"
)

// CompanySearcher runs diversified registry searches.
type CompanySearcher interface {
	Search(ctx context.Context, filters models.SearchFilters) (*sirene.Result, error)
}

// CompaniesRepository defines the interface for company data access.
type CompaniesRepository interface {
	Save(ctx context.Context, c *models.Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error)
	List(ctx context.Context, limit, offset int) ([]models.Company, error)
}

// EmailsRepository lists the contact addresses of a company.
type EmailsRepository interface {
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]models.CompanyEmail, error)
}

// Discoverer enriches a saved company with its website and emails.
type Discoverer interface {
	EnrichByID(ctx context.Context, id uuid.UUID) (*discovery.Result, error)
}

// CampaignService defines the campaign operations exposed over HTTP.
type CampaignService interface {
	Create(ctx context.Context, req dispatcher.CreateRequest) (*models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	Stats(ctx context.Context, id uuid.UUID) (*models.CampaignStats, error)
	Running(id uuid.UUID) bool
	Start(ctx context.Context, id uuid.UUID, req dispatcher.StartRequest) (*dispatcher.StartResult, error)
	Stop(id uuid.UUID) error
}

// ProfileRepository stores the sender profile and key/value settings.
type ProfileRepository interface {
	Get(ctx context.Context, actorID string) (*models.Profile, error)
	Save(ctx context.Context, p *models.Profile) error
	Setting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// LocationResolver expands free-form locations into postal codes.
type LocationResolver interface {
	Resolve(input string) location.Result
	Cities() []location.City
	Districts() []location.City
}

// MailSwitch holds the active SMTP relay.
type MailSwitch interface {
	Current() *mailer.SMTPTransport
	Candidate(settings mailer.Settings, log *logger.Logger) (*mailer.SMTPTransport, error)
	Replace(t *mailer.SMTPTransport)
}

// EventPublisher announces saved companies.
type EventPublisher interface {
	PublishCompaniesSaved(ctx context.Context, event publisher.CompaniesSavedEvent) error
}

// Referential exposes the static reference tables.
type Referential interface {
	Sectors() []referential.SectorGroup
	Brackets() []referential.Bracket
	SizeClasses() []referential.SizeClass
	CodesForClasses(ids []string) []string
}
