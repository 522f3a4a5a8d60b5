// Package api provides HTTP handlers for the REST API.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-fuego/fuego"
	"github.com/google/uuid"

	"github.com/blockedby/prospect-os/internal/discovery"
	"github.com/blockedby/prospect-os/internal/dispatcher"
	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/mailer"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/publisher"
	"github.com/blockedby/prospect-os/internal/repository"
	"github.com/blockedby/prospect-os/internal/sirene"
)

const (
	defaultSearchCount = 10
	maxSearchCount     = 100
	defaultListLimit   = 50
	maxListLimit       = 200
)

// ============================================================================
// Health
// ============================================================================

func (s *Server) healthCheck(c fuego.ContextNoBody) (HealthResponse, error) {
	return HealthResponse{
		Status:  "ok",
		Version: "dev",
	}, nil
}

// ============================================================================
// Companies Handlers
// ============================================================================

func (s *Server) searchCompanies(c fuego.ContextNoBody) (SearchResponse, error) {
	count := parseIntWithDefault(c.QueryParam("nombre"), defaultSearchCount)
	if count <= 0 {
		return SearchResponse{}, fuego.BadRequestError{Detail: "nombre must be positive"}
	}
	if count > maxSearchCount {
		return SearchResponse{}, fuego.BadRequestError{Detail: "nombre must be at most " + strconv.Itoa(maxSearchCount)}
	}

	filters := models.SearchFilters{
		SectorCode:             c.QueryParam("code_ape"),
		Location:               c.QueryParam("location"),
		Brackets:               splitList(c.QueryParam("tranche_effectif_salarie")),
		LegalNature:            c.QueryParam("nature_juridique"),
		Category:               c.QueryParam("categorie_entreprise"),
		AdministrativeStatus:   c.QueryParam("etat_administratif"),
		IncludeSoleProprietors: c.QueryParam("include_sole_proprietors") == "true",
		Count:                  count,
		ActorID:                c.QueryParam("actor_id"),
	}
	if classes := splitList(c.QueryParam("taille")); len(classes) > 0 && s.deps.Referential != nil {
		filters.Brackets = append(filters.Brackets, s.deps.Referential.CodesForClasses(classes)...)
	}
	if filters.ActorID == "" {
		filters.ActorID = s.deps.ActorID
	}

	res, err := s.deps.Searcher.Search(c.Context(), filters)
	if err != nil {
		return SearchResponse{}, searchError(err)
	}

	return SearchResponse{
		Companies:   res.Companies,
		Count:       len(res.Companies),
		Requested:   count,
		Fetched:     res.Fetched,
		Excluded:    res.Excluded,
		FailedPages: res.FailedPages,
		Plan:        res.Plan,
		Location:    res.Location,
	}, nil
}

func searchError(err error) error {
	var locErr *sirene.LocationError
	switch {
	case errors.As(err, &locErr):
		return fuego.BadRequestError{
			Title:  "Location not resolved",
			Detail: err.Error(),
			Errors: []fuego.ErrorItem{{
				Name:   "location",
				Reason: locErr.Result.Error,
				More:   map[string]any{"suggestions": locErr.Result.Suggestions},
			}},
		}
	case errors.Is(err, sirene.ErrRegistryUnavailable), errors.Is(err, sirene.ErrRateLimited):
		return fuego.HTTPError{
			Title:  "Registry unavailable",
			Status: http.StatusServiceUnavailable,
			Detail: err.Error(),
		}
	default:
		return fuego.InternalServerError{Detail: err.Error()}
	}
}

func (s *Server) saveCompanies(c fuego.ContextWithBody[SaveCompaniesRequest]) (SaveCompaniesResponse, error) {
	body, err := c.Body()
	if err != nil {
		return SaveCompaniesResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	if len(body.Companies) == 0 {
		return SaveCompaniesResponse{}, fuego.BadRequestError{Detail: "No companies provided"}
	}

	resp := SaveCompaniesResponse{IDs: make([]uuid.UUID, 0, len(body.Companies))}
	for i := range body.Companies {
		company := &body.Companies[i]
		err := s.deps.Companies.Save(c.Context(), company)
		if errors.Is(err, repository.ErrMissingSiret) {
			resp.Skipped = append(resp.Skipped, company.Name)
			continue
		}
		if err != nil {
			return SaveCompaniesResponse{}, fuego.InternalServerError{Detail: err.Error()}
		}
		resp.IDs = append(resp.IDs, company.ID)
	}
	resp.Saved = len(resp.IDs)

	if resp.Saved > 0 {
		s.deps.Metrics.ObserveSaved(resp.Saved)
		event := publisher.CompaniesSavedEvent{IDs: resp.IDs, At: time.Now().UTC()}
		if err := s.deps.Events.PublishCompaniesSaved(c.Context(), event); err != nil {
			s.log.Warn().Err(err).Int("saved", resp.Saved).Msg("failed to publish companies.saved")
		}
	}

	c.SetStatus(http.StatusCreated)
	return resp, nil
}

func (s *Server) listCompanies(c fuego.ContextNoBody) (CompaniesListResponse, error) {
	limit := parseIntWithDefault(c.QueryParam("limit"), defaultListLimit)
	offset := parseIntWithDefault(c.QueryParam("offset"), 0)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	companies, err := s.deps.Companies.List(c.Context(), limit, offset)
	if err != nil {
		return CompaniesListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	if companies == nil {
		companies = []models.Company{}
	}
	return CompaniesListResponse{Companies: companies, Limit: limit, Offset: offset}, nil
}

func (s *Server) discoverCompany(c fuego.ContextNoBody) (*discovery.Result, error) {
	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return nil, fuego.BadRequestError{Detail: "Invalid company ID"}
	}
	if s.deps.Discovery == nil {
		return nil, fuego.HTTPError{Status: http.StatusServiceUnavailable, Detail: "Contact discovery is not configured"}
	}

	res, err := s.deps.Discovery.EnrichByID(c.Context(), id)
	switch {
	case errors.Is(err, discovery.ErrCompanyNotFound):
		return nil, fuego.NotFoundError{Detail: "Company not found"}
	case err != nil:
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return res, nil
}

func (s *Server) listCompanyEmails(c fuego.ContextNoBody) (EmailsResponse, error) {
	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return EmailsResponse{}, fuego.BadRequestError{Detail: "Invalid company ID"}
	}

	if _, err := s.deps.Companies.GetByID(c.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return EmailsResponse{}, fuego.NotFoundError{Detail: "Company not found"}
		}
		return EmailsResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}

	emails, err := s.deps.Emails.ListByCompany(c.Context(), id)
	if err != nil {
		return EmailsResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	if emails == nil {
		emails = []models.CompanyEmail{}
	}
	return EmailsResponse{CompanyID: id, Emails: emails}, nil
}

// ============================================================================
// Campaigns Handlers
// ============================================================================

func (s *Server) createCampaign(c fuego.ContextWithBody[dispatcher.CreateRequest]) (CampaignResponse, error) {
	body, err := c.Body()
	if err != nil {
		return CampaignResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	if strings.TrimSpace(body.Name) == "" {
		return CampaignResponse{}, fuego.BadRequestError{Detail: "Campaign name is required"}
	}
	if strings.TrimSpace(body.Subject) == "" || strings.TrimSpace(body.Body) == "" {
		return CampaignResponse{}, fuego.BadRequestError{Detail: "Subject and body templates are required"}
	}

	campaign, err := s.deps.Campaigns.Create(c.Context(), body)
	if err != nil {
		return CampaignResponse{}, campaignError(err)
	}

	c.SetStatus(http.StatusCreated)
	return CampaignResponse{Campaign: *campaign}, nil
}

func (s *Server) listCampaigns(c fuego.ContextNoBody) (CampaignsListResponse, error) {
	campaigns, err := s.deps.Campaigns.List(c.Context())
	if err != nil {
		return CampaignsListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}

	resp := CampaignsListResponse{Campaigns: make([]CampaignResponse, 0, len(campaigns))}
	for _, campaign := range campaigns {
		resp.Campaigns = append(resp.Campaigns, CampaignResponse{
			Campaign: campaign,
			Running:  s.deps.Campaigns.Running(campaign.ID),
		})
	}
	return resp, nil
}

func (s *Server) startCampaign(c fuego.ContextWithBody[dispatcher.StartRequest]) (*dispatcher.StartResult, error) {
	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return nil, fuego.BadRequestError{Detail: "Invalid campaign ID"}
	}

	body, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}
	if len(body.CompanyIDs) == 0 {
		return nil, fuego.BadRequestError{Detail: "No company IDs provided"}
	}
	if body.ActorID == "" {
		body.ActorID = s.deps.ActorID
	}

	res, err := s.deps.Campaigns.Start(c.Context(), id, body)
	if err != nil {
		return nil, campaignError(err)
	}

	c.SetStatus(http.StatusAccepted)
	return res, nil
}

func (s *Server) stopCampaign(c fuego.ContextNoBody) (StopCampaignResponse, error) {
	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return StopCampaignResponse{}, fuego.BadRequestError{Detail: "Invalid campaign ID"}
	}

	if err := s.deps.Campaigns.Stop(id); err != nil {
		return StopCampaignResponse{}, campaignError(err)
	}
	return StopCampaignResponse{CampaignID: id, Stopped: true}, nil
}

func (s *Server) campaignStats(c fuego.ContextNoBody) (*models.CampaignStats, error) {
	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return nil, fuego.BadRequestError{Detail: "Invalid campaign ID"}
	}

	stats, err := s.deps.Campaigns.Stats(c.Context(), id)
	if err != nil {
		return nil, campaignError(err)
	}
	return stats, nil
}

func campaignError(err error) error {
	switch {
	case errors.Is(err, dispatcher.ErrCampaignNotFound):
		return fuego.NotFoundError{Detail: "Campaign not found"}
	case errors.Is(err, dispatcher.ErrCampaignRunning), errors.Is(err, dispatcher.ErrCampaignNotRunning):
		return fuego.ConflictError{Detail: err.Error()}
	case errors.Is(err, dispatcher.ErrNoRecipients), errors.Is(err, dispatcher.ErrInvalidAttachment):
		return fuego.BadRequestError{Detail: err.Error()}
	default:
		return fuego.InternalServerError{Detail: err.Error()}
	}
}

// ============================================================================
// Constants Handlers
// ============================================================================

func (s *Server) listSectors(c fuego.ContextNoBody) (SectorsResponse, error) {
	return SectorsResponse{Sectors: s.deps.Referential.Sectors()}, nil
}

func (s *Server) listBrackets(c fuego.ContextNoBody) (BracketsResponse, error) {
	return BracketsResponse{
		Brackets: s.deps.Referential.Brackets(),
		Classes:  s.deps.Referential.SizeClasses(),
	}, nil
}

func (s *Server) listCities(c fuego.ContextNoBody) (CitiesResponse, error) {
	return CitiesResponse{
		Cities:    s.deps.Locations.Cities(),
		Districts: s.deps.Locations.Districts(),
	}, nil
}

func (s *Server) resolveLocation(c fuego.ContextNoBody) (location.Result, error) {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return location.Result{}, fuego.BadRequestError{Detail: "Query parameter q is required"}
	}
	return s.deps.Locations.Resolve(q), nil
}

// ============================================================================
// Profile & Settings Handlers
// ============================================================================

func (s *Server) getProfile(c fuego.ContextNoBody) (*models.Profile, error) {
	p, err := s.deps.Profiles.Get(c.Context(), s.deps.ActorID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Profile{ActorID: s.deps.ActorID}, nil
	}
	if err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return p, nil
}

func (s *Server) updateProfile(c fuego.ContextWithBody[ProfileRequest]) (*models.Profile, error) {
	body, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}
	cv, err := dispatcher.ResolveAttachment(s.deps.UploadsDir, body.DefaultCV)
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}

	p := &models.Profile{
		ActorID:   s.deps.ActorID,
		FullName:  strings.TrimSpace(body.FullName),
		Phone:     strings.TrimSpace(body.Phone),
		LinkedIn:  strings.TrimSpace(body.LinkedIn),
		School:    strings.TrimSpace(body.School),
		Degree:    strings.TrimSpace(body.Degree),
		DefaultCV: cv,
	}
	if err := s.deps.Profiles.Save(c.Context(), p); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return p, nil
}

func (s *Server) getEmailConfig(c fuego.ContextNoBody) (EmailConfigResponse, error) {
	return emailConfigOf(s.deps.Mail.Current()), nil
}

func (s *Server) updateEmailConfig(c fuego.ContextWithBody[EmailConfigRequest]) (EmailConfigResponse, error) {
	body, err := c.Body()
	if err != nil {
		return EmailConfigResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	t, err := s.deps.Mail.Candidate(settingsOf(body), s.log)
	if err != nil {
		return EmailConfigResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	if err := mailer.SaveSettings(c.Context(), s.deps.Profiles, t.Settings()); err != nil {
		return EmailConfigResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	s.deps.Mail.Replace(t)

	s.log.Info().Str("host", t.Addr()).Str("username", body.Username).Msg("smtp relay updated")
	return emailConfigOf(t), nil
}

// testEmailConfig checks the relay without sending anything. A body with a
// username tests those settings instead of the active relay.
func (s *Server) testEmailConfig(c fuego.ContextWithBody[EmailConfigRequest]) (EmailTestResponse, error) {
	body, err := c.Body()
	if err != nil {
		return EmailTestResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	t := s.deps.Mail.Current()
	if body.Username != "" {
		if t, err = s.deps.Mail.Candidate(settingsOf(body), s.log); err != nil {
			return EmailTestResponse{}, fuego.BadRequestError{Detail: err.Error()}
		}
	}
	if t == nil {
		return EmailTestResponse{Error: mailer.ErrNotConfigured.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()
	if err := t.Verify(ctx); err != nil {
		return EmailTestResponse{Host: t.Addr(), Error: err.Error()}, nil
	}
	return EmailTestResponse{Success: true, Host: t.Addr()}, nil
}

func settingsOf(req EmailConfigRequest) mailer.Settings {
	return mailer.Settings{
		Provider:    req.Provider,
		Host:        req.Host,
		Port:        req.Port,
		Username:    req.Username,
		Password:    req.Password,
		From:        req.From,
		FromName:    req.FromName,
		ImplicitTLS: req.ImplicitTLS,
	}
}

func emailConfigOf(t *mailer.SMTPTransport) EmailConfigResponse {
	if t == nil {
		return EmailConfigResponse{}
	}
	st := t.Settings()
	return EmailConfigResponse{
		Configured:  true,
		Provider:    st.Provider,
		Host:        st.Host,
		Port:        st.Port,
		Username:    st.Username,
		From:        st.From,
		FromName:    st.FromName,
		ImplicitTLS: st.ImplicitTLS,
	}
}

// ============================================================================
// Helpers
// ============================================================================

func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
