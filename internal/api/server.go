package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-fuego/fuego"
	"github.com/go-fuego/fuego/option"

	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/metrics"
	"github.com/blockedby/prospect-os/internal/publisher"
)

// Server represents the Fuego API server.
type Server struct {
	fuego *fuego.Server
	deps  *Dependencies
	log   *logger.Logger
}

// Dependencies contains all service dependencies. Discovery, Events and
// Metrics may be nil.
type Dependencies struct {
	Searcher    CompanySearcher
	Companies   CompaniesRepository
	Emails      EmailsRepository
	Discovery   Discoverer
	Campaigns   CampaignService
	Profiles    ProfileRepository
	Locations   LocationResolver
	Referential Referential
	Mail        MailSwitch
	Events      EventPublisher
	Metrics     *metrics.Metrics

	// ActorID owns the profile and is the default blacklist scope.
	ActorID string

	// UploadsDir roots the profile's default CV.
	UploadsDir string
}

// Config holds API server configuration.
type Config struct {
	Title       string
	Description string
	Version     string
}

// NewServer creates a new Fuego API server. Routes are served through
// Handler; the server never listens on its own.
func NewServer(cfg *Config, deps *Dependencies, log *logger.Logger) *Server {
	s := fuego.NewServer(
		fuego.WithEngineOptions(
			fuego.WithOpenAPIConfig(fuego.OpenAPIConfig{
				PrettyFormatJSON: true,
				JSONFilePath:     "openapi.json",
				SwaggerURL:       "/docs",
				SpecURL:          "/openapi.json",
				UIHandler: func(specURL string) http.Handler {
					return ScalarHandler(specURL, cfg.Title, cfg.Description)
				},
			}),
		),
	)

	// Set OpenAPI info
	s.OpenAPI.Description().Info.Title = cfg.Title
	s.OpenAPI.Description().Info.Description = cfg.Description
	s.OpenAPI.Description().Info.Version = cfg.Version

	// Request IDs, logging and recovery come from the outer router.
	fuego.Use(s, middleware.NoCache)

	if deps.Events == nil {
		deps.Events = publisher.Nop{}
	}

	srv := &Server{
		fuego: s,
		deps:  deps,
		log:   log.Component("api"),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) registerRoutes() {
	// Health check
	fuego.Get(s.fuego, "/api/health", s.healthCheck,
		option.Summary("Health Check"),
		option.Description("Returns the health status of the API"),
		option.Tags("System"),
	)

	// Companies API
	companiesGroup := fuego.Group(s.fuego, "/api/v1/companies",
		option.Tags("Companies"),
	)

	fuego.Get(companiesGroup, "/search", s.searchCompanies,
		option.Summary("Search Companies"),
		option.Description("Returns a random sample of registry companies matching the filters, excluding those already contacted"),
		option.Query("nombre", "Number of companies to return (default: 10, max: 100)"),
		option.Query("code_ape", "APE sector code, e.g. 62.01Z or 6201"),
		option.Query("location", "City, district or postal code"),
		option.Query("tranche_effectif_salarie", "Comma-separated headcount bracket codes"),
		option.Query("taille", "Comma-separated size classes (tpe, petite, moyenne, grande)"),
		option.Query("nature_juridique", "Legal nature code"),
		option.Query("categorie_entreprise", "Company category"),
		option.Query("etat_administratif", "Administrative status (default: active only, 'all' to disable)"),
		option.Query("include_sole_proprietors", "Include individual entrepreneurs (true/false)"),
		option.Query("actor_id", "Whose contact history excludes results"),
	)

	fuego.Post(companiesGroup, "", s.saveCompanies,
		option.Summary("Save Companies"),
		option.Description("Upserts companies picked from a search and announces them on companies.saved"),
	)

	fuego.Get(companiesGroup, "", s.listCompanies,
		option.Summary("List Companies"),
		option.Description("Returns saved companies, most recent first"),
		option.Query("limit", "Items per page (default: 50, max: 200)"),
		option.Query("offset", "Items to skip"),
	)

	fuego.Post(companiesGroup, "/{id}/discover", s.discoverCompany,
		option.Summary("Discover Contacts"),
		option.Description("Finds the company website and contact emails and stores them"),
	)

	fuego.Get(companiesGroup, "/{id}/emails", s.listCompanyEmails,
		option.Summary("List Company Emails"),
		option.Description("Returns the known contact addresses, best priority first"),
	)

	// Campaigns API
	campaignsGroup := fuego.Group(s.fuego, "/api/v1/campaigns",
		option.Tags("Campaigns"),
	)

	fuego.Post(campaignsGroup, "", s.createCampaign,
		option.Summary("Create Campaign"),
		option.Description("Creates a draft campaign"),
	)

	fuego.Get(campaignsGroup, "", s.listCampaigns,
		option.Summary("List Campaigns"),
		option.Description("Returns all campaigns with their dispatch state"),
	)

	fuego.Post(campaignsGroup, "/{id}/start", s.startCampaign,
		option.Summary("Start Campaign"),
		option.Description("Sends the campaign to the given companies in the background"),
	)

	fuego.Post(campaignsGroup, "/{id}/stop", s.stopCampaign,
		option.Summary("Stop Campaign"),
		option.Description("Cancels a running campaign; unsent emails are kept for a later run"),
	)

	fuego.Get(campaignsGroup, "/{id}/stats", s.campaignStats,
		option.Summary("Campaign Stats"),
		option.Description("Returns sent and failed counts"),
	)

	// Constants API
	constantsGroup := fuego.Group(s.fuego, "/api/v1/constants",
		option.Tags("Constants"),
	)

	fuego.Get(constantsGroup, "/sectors", s.listSectors,
		option.Summary("List Sectors"),
	)

	fuego.Get(constantsGroup, "/brackets", s.listBrackets,
		option.Summary("List Headcount Brackets"),
	)

	fuego.Get(constantsGroup, "/cities", s.listCities,
		option.Summary("List Cities"),
	)

	fuego.Get(constantsGroup, "/resolve-location", s.resolveLocation,
		option.Summary("Resolve Location"),
		option.Description("Expands a city, district or postal code, with suggestions when unknown"),
		option.Query("q", "Location to resolve"),
	)

	// Profile & settings API
	fuego.Get(s.fuego, "/api/v1/profile", s.getProfile,
		option.Summary("Get Profile"),
		option.Tags("Profile"),
	)

	fuego.Put(s.fuego, "/api/v1/profile", s.updateProfile,
		option.Summary("Update Profile"),
		option.Description("Stores the sender identity used in templates"),
		option.Tags("Profile"),
	)

	emailGroup := fuego.Group(s.fuego, "/api/v1/config/email",
		option.Tags("Settings"),
	)

	fuego.Get(emailGroup, "", s.getEmailConfig,
		option.Summary("Get Email Settings"),
	)

	fuego.Put(emailGroup, "", s.updateEmailConfig,
		option.Summary("Update Email Settings"),
		option.Description("Replaces the SMTP relay. The password is kept in memory only"),
	)

	fuego.Post(emailGroup, "/test", s.testEmailConfig,
		option.Summary("Test Email Settings"),
		option.Description("Connects and authenticates without sending anything"),
	)
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	return s.fuego.Mux
}

// MountDocsOn mounts the OpenAPI documentation routes (/docs, /openapi.json)
// on a Chi router.
func (s *Server) MountDocsOn(r interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}, title, description string) {
	// Serve Scalar UI directly at /docs
	scalarHandler := ScalarHandler("/openapi.json", title, description)
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		scalarHandler.ServeHTTP(w, req)
	})

	// Serve OpenAPI spec from Fuego's generated schema
	r.Get("/openapi.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		spec := s.fuego.OpenAPI.Description()
		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	})
}
