package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/prospect-os/internal/config"
	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/mailer"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/repository"
)

var (
	// ErrCampaignNotFound is returned for unknown campaign ids.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignRunning is returned when starting a campaign already dispatching.
	ErrCampaignRunning = errors.New("campaign already running")
	// ErrCampaignNotRunning is returned when stopping an idle campaign.
	ErrCampaignNotRunning = errors.New("campaign not running")
	// ErrNoRecipients means none of the selected companies has a valid email.
	ErrNoRecipients = errors.New("no company with a valid email")
)

// CampaignStore persists campaigns and their outcomes.
type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	Advance(ctx context.Context, id uuid.UUID, next models.CampaignStatus) (bool, error)
	RecordOutcomes(ctx context.Context, outcomes []models.SendOutcome) error
	Stats(ctx context.Context, id uuid.UUID) (*models.CampaignStats, error)
}

// CompanyReader loads the companies targeted by a run.
type CompanyReader interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Company, error)
}

// EmailReader picks the address a company is contacted on.
type EmailReader interface {
	BestValid(ctx context.Context, companyID uuid.UUID) (*models.CompanyEmail, error)
}

// BlacklistWriter records contacted companies for an actor.
type BlacklistWriter interface {
	Add(ctx context.Context, actorID string, sirens []string) (int, error)
}

// ProfileReader provides the sender's template variables.
type ProfileReader interface {
	Get(ctx context.Context, actorID string) (*models.Profile, error)
}

// Defaults are applied to campaigns and runs that leave a setting unset.
type Defaults struct {
	PerDayCap    int
	DelaySeconds int
	MaxJitter    time.Duration
	ActorID      string

	// ExemptFailuresFromCap stops failed sends from consuming the daily cap.
	ExemptFailuresFromCap bool

	// UploadsDir roots every campaign and profile attachment.
	UploadsDir string
}

// DefaultsFromConfig reads campaign defaults from the application config.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		PerDayCap:             cfg.CampaignPerDay,
		DelaySeconds:          cfg.CampaignDelaySeconds,
		MaxJitter:             cfg.CampaignMaxJitter,
		ExemptFailuresFromCap: !cfg.CampaignCountFailures,
		ActorID:               cfg.DefaultActorID,
		UploadsDir:            cfg.UploadsDir,
	}
}

// Stores groups the persistence dependencies of the service.
type Stores struct {
	Campaigns CampaignStore
	Companies CompanyReader
	Emails    EmailReader
	Blacklist BlacklistWriter
	Profiles  ProfileReader
}

// CreateRequest describes a new campaign.
type CreateRequest struct {
	Name         string  `json:"name"`
	Subject      string  `json:"template_subject"`
	Body         string  `json:"template_body"`
	Attachment   *string `json:"cv_filename,omitempty"`
	PerDayCap    int     `json:"emails_per_day,omitempty"`
	DelaySeconds int     `json:"delay_between_emails,omitempty"`
}

// StartRequest selects the companies of a run.
type StartRequest struct {
	CompanyIDs []uuid.UUID `json:"company_ids"`
	ActorID    string      `json:"actor_id,omitempty"`
}

// StartResult describes a launched run.
type StartResult struct {
	CampaignID uuid.UUID   `json:"campaign_id"`
	Jobs       int         `json:"jobs"`
	Skipped    []uuid.UUID `json:"skipped,omitempty"`
}

// Service drives campaigns: it builds email jobs, runs the scheduler in the
// background and records what happened.
type Service struct {
	stores    Stores
	scheduler *Scheduler
	tracker   *Tracker
	defaults  Defaults
	log       *logger.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a campaign service.
func NewService(stores Stores, scheduler *Scheduler, tracker *Tracker, defaults Defaults, log *logger.Logger) *Service {
	if defaults.PerDayCap <= 0 {
		defaults.PerDayCap = 40
	}
	if defaults.DelaySeconds <= 0 {
		defaults.DelaySeconds = 45
	}
	if defaults.UploadsDir == "" {
		defaults.UploadsDir = DefaultUploadsDir
	}
	if tracker == nil {
		tracker = NewTracker(nil, nil, nil, log)
	}
	return &Service{
		stores:    stores,
		scheduler: scheduler,
		tracker:   tracker,
		defaults:  defaults,
		log:       log.Component("campaigns"),
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Create stores a draft campaign.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Campaign, error) {
	if req.Name == "" {
		return nil, errors.New("campaign name is required")
	}
	if req.Subject == "" || req.Body == "" {
		return nil, errors.New("subject and body templates are required")
	}
	if req.Attachment != nil {
		path, err := ResolveAttachment(s.defaults.UploadsDir, *req.Attachment)
		if err != nil {
			return nil, err
		}
		if path == "" {
			req.Attachment = nil
		} else {
			req.Attachment = &path
		}
	}

	c := &models.Campaign{
		Name:            req.Name,
		SubjectTemplate: req.Subject,
		BodyTemplate:    req.Body,
		Attachment:      req.Attachment,
		PerDayCap:       req.PerDayCap,
		DelaySeconds:    req.DelaySeconds,
		Status:          models.CampaignStatusDraft,
	}
	if c.PerDayCap <= 0 {
		c.PerDayCap = s.defaults.PerDayCap
	}
	if c.DelaySeconds <= 0 {
		c.DelaySeconds = s.defaults.DelaySeconds
	}

	if err := s.stores.Campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info().Str("campaign_id", c.ID.String()).Str("name", c.Name).Msg("campaign created")
	return c, nil
}

// List returns every campaign.
func (s *Service) List(ctx context.Context) ([]models.Campaign, error) {
	return s.stores.Campaigns.List(ctx)
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, err := s.stores.Campaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	return c, err
}

// Stats returns delivery counts for a campaign.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*models.CampaignStats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.stores.Campaigns.Stats(ctx, id)
}

// Running reports whether a campaign is dispatching.
func (s *Service) Running(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// Start builds the jobs, moves the campaign to active and dispatches in the
// background. The run outlives ctx; use Stop to cancel it.
func (s *Service) Start(ctx context.Context, id uuid.UUID, req StartRequest) (*StartResult, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Running(id) {
		return nil, ErrCampaignRunning
	}

	actor := req.ActorID
	if actor == "" {
		actor = s.defaults.ActorID
	}

	jobs, skipped, err := s.BuildJobs(ctx, c, req.CompanyIDs, actor)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNoRecipients
	}

	advanced, err := s.stores.Campaigns.Advance(ctx, id, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	if advanced {
		s.tracker.StatusChanged(id, c.Status, models.CampaignStatusActive)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	if _, busy := s.running[id]; busy {
		s.mu.Unlock()
		cancel()
		return nil, ErrCampaignRunning
	}
	s.running[id] = cancel
	s.mu.Unlock()

	cfg := Config{
		PerDayCap:      c.PerDayCap,
		Delay:          time.Duration(c.DelaySeconds) * time.Second,
		MaxJitter:      s.defaults.MaxJitter,
		ExemptFailures: s.defaults.ExemptFailuresFromCap,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			cancel()
		}()
		s.run(runCtx, id, jobs, cfg, actor)
	}()

	return &StartResult{CampaignID: id, Jobs: len(jobs), Skipped: skipped}, nil
}

// Stop cancels a running campaign. The campaign stays active.
func (s *Service) Stop(id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return ErrCampaignNotRunning
	}
	cancel()
	s.log.Info().Str("campaign_id", id.String()).Msg("campaign stop requested")
	return nil
}

// Shutdown cancels every run and waits for them to record their outcomes.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until every background run returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// BuildJobs renders one job per company that has a valid email. Companies
// without one are returned in skipped.
func (s *Service) BuildJobs(
	ctx context.Context,
	c *models.Campaign,
	companyIDs []uuid.UUID,
	actorID string,
) ([]models.EmailJob, []uuid.UUID, error) {
	companies, err := s.stores.Companies.GetByIDs(ctx, companyIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load companies: %w", err)
	}

	profileVars := map[string]string{}
	attachment := ""
	if c.Attachment != nil {
		attachment = *c.Attachment
	}
	if actorID != "" && s.stores.Profiles != nil {
		p, err := s.stores.Profiles.Get(ctx, actorID)
		switch {
		case err == nil:
			profileVars = p.Variables()
			if attachment == "" {
				attachment = p.DefaultCV
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			return nil, nil, fmt.Errorf("load profile: %w", err)
		}
	}
	attachment, err = ResolveAttachment(s.defaults.UploadsDir, attachment)
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]models.EmailJob, 0, len(companies))
	var skipped []uuid.UUID
	for _, co := range companies {
		email, err := s.stores.Emails.BestValid(ctx, co.ID)
		if errors.Is(err, repository.ErrNotFound) {
			skipped = append(skipped, co.ID)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load email for %s: %w", co.ID, err)
		}

		vars := CompanyVariables(co)
		for k, v := range profileVars {
			vars[k] = v
		}

		jobs = append(jobs, models.EmailJob{
			To:         email.Email,
			Subject:    mailer.Render(c.SubjectTemplate, vars),
			Body:       mailer.RenderHTML(c.BodyTemplate, vars),
			Attachment: attachment,
			CompanyID:  co.ID,
			Siren:      co.Siren,
			CampaignID: c.ID,
		})
	}
	return jobs, skipped, nil
}

// CompanyVariables are the per-company template variables.
func CompanyVariables(c models.Company) map[string]string {
	return map[string]string{
		"nom_entreprise":   c.Name,
		"ville":            c.City,
		"secteur_activite": c.SectorLabel,
	}
}

func (s *Service) run(ctx context.Context, id uuid.UUID, jobs []models.EmailJob, cfg Config, actorID string) {
	s.tracker.Started(id, len(jobs))

	outcomes, runErr := s.scheduler.Run(ctx, jobs, cfg, func(p Progress) {
		s.tracker.Progress(ctx, id, p)
	})

	// bookkeeping must survive a stop request
	bg := context.WithoutCancel(ctx)

	if err := s.stores.Campaigns.RecordOutcomes(bg, outcomes); err != nil {
		s.log.Error().Err(err).Str("campaign_id", id.String()).Msg("failed to record outcomes")
	}

	sent, failed := 0, 0
	var contacted []string
	for _, o := range outcomes {
		if !o.Success {
			failed++
			continue
		}
		sent++
		if o.Job.Siren != "" {
			contacted = append(contacted, o.Job.Siren)
		}
	}

	if actorID != "" && len(contacted) > 0 && s.stores.Blacklist != nil {
		added, err := s.stores.Blacklist.Add(bg, actorID, contacted)
		if err != nil {
			s.log.Warn().Err(err).
				Str("campaign_id", id.String()).
				Int("sirens", len(contacted)).
				Msg("failed to blacklist contacted companies")
		} else {
			s.log.Info().Str("campaign_id", id.String()).Int("added", added).Msg("contacted companies blacklisted")
		}
	}

	cancelled := runErr != nil
	if !cancelled {
		advanced, err := s.stores.Campaigns.Advance(bg, id, models.CampaignStatusCompleted)
		if err != nil {
			s.log.Error().Err(err).Str("campaign_id", id.String()).Msg("failed to complete campaign")
		} else if advanced {
			s.tracker.StatusChanged(id, models.CampaignStatusActive, models.CampaignStatusCompleted)
		}
	}

	deferred := 0
	if !cancelled {
		deferred = len(jobs) - len(outcomes)
	}
	s.tracker.Completed(bg, id, CompletedEvent{
		Sent:      sent,
		Failed:    failed,
		Deferred:  deferred,
		Cancelled: cancelled,
	})
}
