package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blockedby/prospect-os/internal/api"
	"github.com/blockedby/prospect-os/internal/config"
	"github.com/blockedby/prospect-os/internal/database"
	"github.com/blockedby/prospect-os/internal/discovery"
	"github.com/blockedby/prospect-os/internal/dispatcher"
	"github.com/blockedby/prospect-os/internal/llm"
	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/mailer"
	"github.com/blockedby/prospect-os/internal/metrics"
	"github.com/blockedby/prospect-os/internal/migrator"
	"github.com/blockedby/prospect-os/internal/nats"
	"github.com/blockedby/prospect-os/internal/publisher"
	"github.com/blockedby/prospect-os/internal/referential"
	"github.com/blockedby/prospect-os/internal/repository"
	"github.com/blockedby/prospect-os/internal/sirene"
	"github.com/blockedby/prospect-os/internal/web"
	"github.com/blockedby/prospect-os/migrations"
)

const (
	apiTitle       = "Prospect OS API"
	apiDescription = "Company search, contact discovery and application campaigns"
)

// eventBus is every event the services publish.
type eventBus interface {
	dispatcher.EventPublisher
	discovery.EnrichedPublisher
	api.EventPublisher
}

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting prospect server")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Apply migrations and connect to database
	mig, err := migrator.NewWithFS(migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load migrations")
	}
	if err := mig.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 5. Connect to NATS
	var bus eventBus = publisher.Nop{}
	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
	} else {
		defer nc.Close()
		if err := nc.EnsureStreams(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to ensure nats streams")
		}
		bus = publisher.NewNATSPublisher(nc.Conn)
	}

	// 6. Initialize repositories
	companiesRepo := repository.NewCompaniesRepository(db.Pool)
	emailsRepo := repository.NewEmailsRepository(db.Pool)
	campaignsRepo := repository.NewCampaignsRepository(db.Pool)
	blacklistRepo := repository.NewBlacklistRepository(db.Pool)
	profileRepo := repository.NewProfileRepository(db.GORM)

	// 7. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// 8. Registry search
	locations := location.Default()
	engine := sirene.NewEngine(
		sirene.NewClient(cfg.RegistryBaseURL, cfg.RegistryTimeout),
		locations,
		blacklistRepo,
		sirene.OptionsFromConfig(cfg),
		log,
	).WithMetrics(m)

	// 9. Mail transport: environment first, stored settings on top
	smtpSettings, err := mailer.LoadSettings(ctx, profileRepo, mailer.SettingsFromConfig(cfg))
	if err != nil {
		log.Warn().Err(err).Msg("failed to load stored smtp settings")
	}
	transport, err := mailer.NewSMTPTransport(smtpSettings, log)
	switch {
	case errors.Is(err, mailer.ErrNotConfigured):
		log.Info().Msg("smtp not configured, set it from the settings page")
	case err != nil:
		log.Warn().Err(err).Msg("invalid smtp settings")
	}
	mail := mailer.NewSwitch(transport)

	// 10. WebSocket hub & campaigns
	hub := web.NewHub()
	go hub.Run()

	campaigns := dispatcher.NewService(
		dispatcher.Stores{
			Campaigns: campaignsRepo,
			Companies: companiesRepo,
			Emails:    emailsRepo,
			Blacklist: blacklistRepo,
			Profiles:  profileRepo,
		},
		dispatcher.NewScheduler(mail, log),
		dispatcher.NewTracker(hub, bus, m, log),
		dispatcher.DefaultsFromConfig(cfg),
		log,
	)

	// 11. Contact discovery
	browser := discovery.NewChromeBrowser(cfg.ScraperTimeout)
	var llmFinder discovery.Finder
	if cfg.LLMAPIKey != "" {
		client := llm.NewClient(llm.Config{
			BaseURL:     cfg.LLMBaseURL,
			Model:       cfg.LLMModel,
			APIKey:      cfg.LLMAPIKey,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: float32(cfg.LLMTemperature),
			Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
		})
		f, err := discovery.NewLLMFinder(client, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load discovery prompts")
		}
		llmFinder = f
	}

	var discoverer api.Discoverer
	finders, err := discovery.Finders(cfg.DiscoveryMode, llmFinder, discovery.NewScrapeFinder(browser, "", log))
	if err != nil {
		log.Warn().Err(err).Str("mode", cfg.DiscoveryMode).Msg("contact discovery disabled")
	} else {
		discoverer = discovery.NewService(finders, companiesRepo, emailsRepo, bus, m, log)
	}

	if nc != nil {
		err := nc.Subscribe(ctx, "COMPANIES", "web-enriched", publisher.SubjectCompanyEnriched,
			web.Relay(hub, web.EventCompanyEnriched))
		if err != nil {
			log.Warn().Err(err).Msg("failed to relay enrichment events")
		}
	}

	// 12. API & web server
	apiSrv := api.NewServer(&api.Config{
		Title:       apiTitle,
		Description: apiDescription,
		Version:     "1.0.0",
	}, &api.Dependencies{
		Searcher:    engine,
		Companies:   companiesRepo,
		Emails:      emailsRepo,
		Discovery:   discoverer,
		Campaigns:   campaigns,
		Profiles:    profileRepo,
		Locations:   locations,
		Referential: referential.Default(),
		Mail:        mail,
		Events:      bus,
		Metrics:     m,
		ActorID:     cfg.DefaultActorID,
		UploadsDir:  cfg.UploadsDir,
	}, log)

	server := web.NewServer(&web.Config{
		Port:           cfg.HTTPPort,
		UploadsDir:     cfg.UploadsDir,
		AllowedOrigins: cfg.CORSOrigins,
	}, hub, log)
	server.MountAPI(apiSrv.Handler())
	server.MountMetrics(m.Handler())
	apiSrv.MountDocsOn(server.Router(), apiTitle, apiDescription)

	// 13. Start Server
	log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// 14. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}

	campaigns.Shutdown()
	browser.Close()

	log.Info().Msg("shutdown complete")
}
