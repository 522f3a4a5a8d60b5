package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/metrics"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/publisher"
	"github.com/blockedby/prospect-os/internal/repository"
)

// Discovery modes.
const (
	ModeScrape = "scrape"
	ModeLLM    = "llm"
	ModeAuto   = "auto"
)

// Result sources.
const (
	SourceScrape = "scrape"
	SourceLLM    = "llm"
	SourceGuess  = "guess"
	SourceNone   = "none"
)

var (
	// ErrCompanyNotFound is returned when enriching an unknown company id.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrUnknownMode is returned for an unsupported discovery mode.
	ErrUnknownMode = errors.New("unknown discovery mode")
	// ErrNoFinder is returned when the selected mode has no backing finder.
	ErrNoFinder = errors.New("no finder configured for mode")
)

// CompanyStore reads companies and records their website.
type CompanyStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error)
	SetWebsite(ctx context.Context, id uuid.UUID, website string) error
}

// EmailStore records discovered addresses.
type EmailStore interface {
	Add(ctx context.Context, companyID uuid.UUID, emails []models.CompanyEmail) (int, error)
}

// EnrichedPublisher announces finished discoveries.
type EnrichedPublisher interface {
	PublishCompanyEnriched(ctx context.Context, event publisher.CompanyEnrichedEvent) error
}

// NamedFinder tags a finder with the source reported for its results.
type NamedFinder struct {
	Name   string
	Finder Finder
}

// Finders picks the finders for mode, in the order they are tried. In auto
// mode the LLM is tried first and the scraper second; either may be nil.
func Finders(mode string, llmFinder, scrapeFinder Finder) ([]NamedFinder, error) {
	var out []NamedFinder
	switch strings.ToLower(mode) {
	case ModeScrape:
		if scrapeFinder == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoFinder, mode)
		}
		out = append(out, NamedFinder{SourceScrape, scrapeFinder})
	case ModeLLM:
		if llmFinder == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoFinder, mode)
		}
		out = append(out, NamedFinder{SourceLLM, llmFinder})
	case ModeAuto, "":
		if llmFinder != nil {
			out = append(out, NamedFinder{SourceLLM, llmFinder})
		}
		if scrapeFinder != nil {
			out = append(out, NamedFinder{SourceScrape, scrapeFinder})
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return out, nil
}

// Result is the outcome of one enrichment.
type Result struct {
	CompanyID uuid.UUID             `json:"company_id"`
	Website   string                `json:"website_url,omitempty"`
	Emails    []models.CompanyEmail `json:"emails"`
	Added     int                   `json:"added"`
	Source    string                `json:"source"`
	// Suggested holds unsaved guesses derived from the company name when no
	// website was found.
	Suggested []EmailCandidate `json:"suggested,omitempty"`
}

// Service enriches saved companies with a website and contact addresses.
type Service struct {
	finders   []NamedFinder
	companies CompanyStore
	emails    EmailStore
	events    EnrichedPublisher
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates a service. events and m may be nil.
func NewService(finders []NamedFinder, companies CompanyStore, emails EmailStore, events EnrichedPublisher, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		finders:   finders,
		companies: companies,
		emails:    emails,
		events:    events,
		metrics:   m,
		log:       log.Component("discovery"),
		now:       time.Now,
	}
}

// EnrichByID loads a company and enriches it.
func (s *Service) EnrichByID(ctx context.Context, id uuid.UUID) (*Result, error) {
	c, err := s.companies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return s.Enrich(ctx, c)
}

// Enrich finds the company's website unless already known, then its
// addresses, falling back to guessed mailboxes on the website's domain. The
// website and addresses are persisted and the result published.
func (s *Service) Enrich(ctx context.Context, company *models.Company) (*Result, error) {
	res := &Result{CompanyID: company.ID, Source: SourceNone}
	log := s.log.With().Str("company_id", company.ID.String()).Str("siren", company.Siren).Logger()

	website := ""
	if company.WebsiteURL != nil {
		website = strings.TrimSpace(*company.WebsiteURL)
	}

	if website == "" {
		for _, nf := range s.finders {
			found, err := nf.Finder.FindWebsite(ctx, company.Name, company.City)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warn().Err(err).Str("finder", nf.Name).Msg("website lookup failed")
				continue
			}
			if found != "" {
				website = found
				break
			}
		}
		if website != "" {
			if err := s.companies.SetWebsite(ctx, company.ID, website); err != nil {
				return nil, fmt.Errorf("save website: %w", err)
			}
			company.WebsiteURL = &website
		}
	}

	if website == "" {
		if d := domainFromName(company.Name); d != "" {
			res.Suggested = GuessEmails(d)
		}
		log.Info().Msg("no website found")
		s.finish(ctx, company, res)
		return res, nil
	}
	res.Website = website

	var candidates []EmailCandidate
	for _, nf := range s.finders {
		found, err := nf.Finder.FindEmails(ctx, company.Name, website)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("finder", nf.Name).Msg("email lookup failed")
			continue
		}
		if len(found) > 0 {
			candidates = found
			res.Source = nf.Name
			break
		}
	}
	if len(candidates) == 0 {
		candidates = GuessEmails(website)
		res.Source = SourceGuess
	}

	res.Emails = make([]models.CompanyEmail, 0, len(candidates))
	for _, c := range candidates {
		src := c.SourcePage
		if src == "" {
			src = website
		}
		res.Emails = append(res.Emails, models.CompanyEmail{
			CompanyID:  company.ID,
			Email:      c.Email,
			Priority:   c.Priority,
			SourcePage: src,
			IsValid:    true,
		})
	}

	added, err := s.emails.Add(ctx, company.ID, res.Emails)
	if err != nil {
		return nil, fmt.Errorf("save emails: %w", err)
	}
	res.Added = added

	log.Info().
		Str("website", website).
		Str("source", res.Source).
		Int("emails", len(res.Emails)).
		Int("added", added).
		Msg("company enriched")
	s.finish(ctx, company, res)
	return res, nil
}

func (s *Service) finish(ctx context.Context, company *models.Company, res *Result) {
	s.metrics.ObserveDiscovery(res.Source)
	if s.events == nil {
		return
	}
	err := s.events.PublishCompanyEnriched(ctx, publisher.CompanyEnrichedEvent{
		CompanyID: company.ID,
		Siren:     company.Siren,
		Website:   res.Website,
		Emails:    len(res.Emails),
		Source:    res.Source,
		At:        s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("company_id", company.ID.String()).Msg("failed to publish enrichment")
	}
}
