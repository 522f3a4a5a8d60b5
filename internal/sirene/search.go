// Package sirene queries the public company registry and turns its
// deterministic ranking into a randomized, deduplicated sample.
package sirene

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockedby/prospect-os/internal/config"
	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/metrics"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/referential"
)

var (
	// ErrRateLimited is returned by a fetcher when the registry answers 429.
	ErrRateLimited = errors.New("registry rate limit reached")
	// ErrRegistryUnavailable means no page of a search could be fetched.
	ErrRegistryUnavailable = errors.New("registry unavailable")
	// ErrLocationUnresolved means the location filter matched no postal code.
	ErrLocationUnresolved = errors.New("location unresolved")
)

// LocationError carries the resolver outcome for an unresolved location.
type LocationError struct {
	Result location.Result
}

func (e *LocationError) Error() string {
	if e.Result.Error != "" {
		return fmt.Sprintf("%s: %s", ErrLocationUnresolved, e.Result.Error)
	}
	return fmt.Sprintf("%s: %q", ErrLocationUnresolved, e.Result.Original)
}

func (e *LocationError) Unwrap() error { return ErrLocationUnresolved }

// PageFetcher retrieves one page of registry results.
type PageFetcher interface {
	FetchPage(ctx context.Context, params url.Values, page, perPage int) (*Page, error)
}

// LocationResolver expands a free-text location into postal codes.
type LocationResolver interface {
	Resolve(input string) location.Result
}

// BlacklistReader lists the sirens an actor already contacted.
type BlacklistReader interface {
	Sirens(ctx context.Context, actorID string) ([]string, error)
}

// Options tunes pool sizing, pacing and default filters.
type Options struct {
	Multiplier      int
	PageSize        int
	RequestDelay    time.Duration
	MaxRetries      int
	Backoff         time.Duration
	DefaultBrackets []string
	// LocationStrict rejects searches whose location cannot be resolved.
	// When false the search proceeds without a postal-code filter.
	LocationStrict bool
}

// DefaultOptions mirrors the registry's observed limits.
func DefaultOptions() Options {
	return Options{
		Multiplier:      6,
		PageSize:        MaxPageSize,
		RequestDelay:    150 * time.Millisecond,
		MaxRetries:      4,
		Backoff:         time.Second,
		DefaultBrackets: []string{"12", "21", "22", "31", "32", "41", "42", "51", "52", "53"},
		LocationStrict:  true,
	}
}

// OptionsFromConfig reads engine options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Multiplier:      cfg.RegistryMultiplier,
		PageSize:        cfg.RegistryPageSize,
		RequestDelay:    cfg.RegistryRequestDelay,
		MaxRetries:      cfg.RegistryMaxRetries,
		Backoff:         cfg.RegistryBackoff,
		DefaultBrackets: cfg.RegistryDefaultBrackets,
		LocationStrict:  cfg.LocationStrict,
	}
}

// Plan is the pool sizing for one search.
type Plan struct {
	PoolSize    int `json:"pool_size"`
	PagesNeeded int `json:"pages_needed"`
}

// PlanFor computes pool size and page count for count requested companies.
func PlanFor(count, multiplier, pageSize int) Plan {
	if count <= 0 || multiplier <= 0 || pageSize <= 0 {
		return Plan{}
	}
	pool := count * multiplier
	return Plan{
		PoolSize:    pool,
		PagesNeeded: (pool + pageSize - 1) / pageSize,
	}
}

// Result is what a search returns along with bookkeeping for callers.
type Result struct {
	Companies   []models.Company `json:"companies"`
	Plan        Plan             `json:"plan"`
	Fetched     int              `json:"fetched"`
	Excluded    int              `json:"excluded"`
	FailedPages int              `json:"failed_pages"`
	Location    *location.Result `json:"location,omitempty"`
}

// Engine runs diversified registry searches.
type Engine struct {
	fetcher   PageFetcher
	resolver  LocationResolver
	blacklist BlacklistReader
	limiter   *RateLimiter
	opts      Options
	metrics   *metrics.Metrics
	log       *logger.Logger
	intn      func(n int) int
}

// NewEngine creates a search engine. blacklist may be nil when searches
// never carry an actor id.
func NewEngine(
	fetcher PageFetcher,
	resolver LocationResolver,
	blacklist BlacklistReader,
	opts Options,
	log *logger.Logger,
) *Engine {
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Engine{
		fetcher:   fetcher,
		resolver:  resolver,
		blacklist: blacklist,
		limiter:   NewRateLimiter(opts.RequestDelay),
		opts:      opts,
		log:       log.Component("sirene"),
		intn:      rand.IntN,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// WithMetrics records searches and registry pages in m.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// Search returns up to filters.Count companies sampled uniformly from an
// oversized pool, excluding those the actor already contacted.
func (e *Engine) Search(ctx context.Context, filters models.SearchFilters) (_ *Result, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSearch(err, time.Since(start).Seconds()) }()

	if filters.Count <= 0 {
		return nil, fmt.Errorf("requested count must be positive, got %d", filters.Count)
	}

	params, loc, err := e.BuildParams(filters)
	if err != nil {
		return nil, err
	}

	plan := PlanFor(filters.Count, e.opts.Multiplier, e.opts.PageSize)
	e.log.Info().
		Int("requested", filters.Count).
		Int("pool_size", plan.PoolSize).
		Int("pages", plan.PagesNeeded).
		Str("actor", filters.ActorID).
		Msg("diversified search started")

	pool, failed, err := e.fetchPool(ctx, params, plan)
	if err != nil {
		return nil, err
	}

	res := &Result{Plan: plan, Fetched: len(pool), FailedPages: failed, Location: loc}

	if filters.ActorID != "" && e.blacklist != nil {
		contacted, err := e.blacklist.Sirens(ctx, filters.ActorID)
		if err != nil {
			return nil, fmt.Errorf("load blacklist: %w", err)
		}
		before := len(pool)
		pool = ExcludeContacted(pool, contacted)
		res.Excluded = before - len(pool)
	}

	Shuffle(pool, e.intn)

	if len(pool) > filters.Count {
		pool = pool[:filters.Count]
	}
	res.Companies = pool

	e.log.Info().
		Int("fetched", res.Fetched).
		Int("excluded", res.Excluded).
		Int("returned", len(pool)).
		Int("failed_pages", failed).
		Msg("diversified search finished")

	return res, nil
}

// BuildParams turns filters into registry query parameters, applying the
// forced defaults: sole proprietors excluded, active companies only, and the
// default bracket set when none is given.
func (e *Engine) BuildParams(filters models.SearchFilters) (url.Values, *location.Result, error) {
	params := url.Values{}

	if filters.SectorCode != "" {
		params.Set("activite_principale", referential.FormatSectorCode(filters.SectorCode))
	}

	var loc *location.Result
	if filters.Location != "" {
		res := e.resolver.Resolve(filters.Location)
		loc = &res
		switch {
		case res.Success && len(res.PostalCodes) > 0:
			params.Set("code_postal", strings.Join(res.PostalCodes, ","))
		case e.opts.LocationStrict:
			return nil, loc, &LocationError{Result: res}
		default:
			e.log.Warn().
				Str("location", filters.Location).
				Str("type", res.Type).
				Msg("location unresolved, searching without postal filter")
		}
	}

	brackets := filters.Brackets
	if len(brackets) == 0 {
		brackets = e.opts.DefaultBrackets
	}
	if len(brackets) > 0 {
		params.Set("tranche_effectif_salarie", strings.Join(brackets, ","))
	}

	if filters.LegalNature != "" {
		params.Set("nature_juridique", filters.LegalNature)
	}
	if filters.Category != "" {
		params.Set("categorie_entreprise", filters.Category)
	}

	if !filters.IncludeSoleProprietors {
		params.Set("est_entrepreneur_individuel", "false")
	}

	switch filters.AdministrativeStatus {
	case "all":
	case "":
		params.Set("etat_administratif", "A")
	default:
		params.Set("etat_administratif", filters.AdministrativeStatus)
	}

	return params, loc, nil
}

// fetchPool reads pages in order until the pool is full or pages run out.
// It fails only when every page failed or the context ended.
func (e *Engine) fetchPool(ctx context.Context, params url.Values, plan Plan) ([]models.Company, int, error) {
	pool := make([]models.Company, 0, plan.PoolSize)
	failed := 0
	var lastErr error

	for page := 1; page <= plan.PagesNeeded; page++ {
		p, err := e.fetchPage(ctx, params, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failed, ctx.Err()
			}
			failed++
			lastErr = err
			e.metrics.ObservePages(0, 1)
			e.log.Warn().Err(err).Int("page", page).Msg("registry page failed, continuing")
			continue
		}

		pool = append(pool, p.Companies...)
		e.metrics.ObservePages(1, 0)
		e.log.Debug().
			Int("page", page).
			Int("of", plan.PagesNeeded).
			Int("records", len(p.Companies)).
			Msg("registry page fetched")

		if len(pool) >= plan.PoolSize {
			break
		}
		// past the last result
		if len(p.Companies) < e.opts.PageSize {
			break
		}
	}

	if failed > 0 && failed == plan.PagesNeeded {
		return nil, failed, fmt.Errorf("%w: %w", ErrRegistryUnavailable, lastErr)
	}
	return pool, failed, nil
}

// fetchPage retries the same page on 429 with exponential backoff, up to
// MaxRetries times.
func (e *Engine) fetchPage(ctx context.Context, params url.Values, page int) (*Page, error) {
	policy := e.retryPolicy()

	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		p, err := e.fetcher.FetchPage(ctx, params, page, e.opts.PageSize)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("page %d after %d retries: %w", page, attempt, err)
		}
		e.log.Warn().
			Int("page", page).
			Int("retry", attempt+1).
			Dur("backoff", wait).
			Msg("registry rate limited, backing off")
		e.limiter.Pause(wait)
	}
}

func (e *Engine) retryPolicy() backoff.BackOff {
	if e.opts.MaxRetries == 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = retryCeiling(e.opts.Backoff, e.opts.MaxRetries)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(e.opts.MaxRetries))
}

// MaxRetryInterval caps a single wait between retries of one page.
const MaxRetryInterval = 5 * time.Minute

// retryCeiling is base doubled once per retry, capped at MaxRetryInterval.
func retryCeiling(base time.Duration, retries int) time.Duration {
	if base <= 0 || base >= MaxRetryInterval {
		return MaxRetryInterval
	}
	ceiling := base
	for i := 0; i < retries && ceiling < MaxRetryInterval; i++ {
		ceiling *= 2
	}
	return min(ceiling, MaxRetryInterval)
}

// ExcludeContacted drops companies whose siren is in contacted.
func ExcludeContacted(pool []models.Company, contacted []string) []models.Company {
	if len(contacted) == 0 {
		return pool
	}
	skip := make(map[string]struct{}, len(contacted))
	for _, s := range contacted {
		skip[s] = struct{}{}
	}
	out := pool[:0]
	for _, c := range pool {
		if _, ok := skip[c.Siren]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
