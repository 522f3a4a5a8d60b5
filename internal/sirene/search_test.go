package sirene

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/metrics"
	"github.com/blockedby/prospect-os/internal/models"
)

// fakeRegistry serves deterministic pages of synthetic companies.
type fakeRegistry struct {
	mu      sync.Mutex
	total   int
	errs    map[int][]error // queued errors per page, consumed in order
	always  map[int]error   // errors returned on every request for a page
	calls   []int
	params  []url.Values
	perPage []int
}

func newFakeRegistry(total int) *fakeRegistry {
	return &fakeRegistry{total: total, errs: map[int][]error{}, always: map[int]error{}}
}

func (f *fakeRegistry) failPage(page int, errs ...error) {
	f.errs[page] = append(f.errs[page], errs...)
}

func (f *fakeRegistry) alwaysFail(page int, err error) {
	f.always[page] = err
}

func (f *fakeRegistry) FetchPage(ctx context.Context, params url.Values, page, perPage int) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, page)
	f.params = append(f.params, params)
	f.perPage = append(f.perPage, perPage)

	if err := f.always[page]; err != nil {
		return nil, err
	}
	if queued := f.errs[page]; len(queued) > 0 {
		f.errs[page] = queued[1:]
		return nil, queued[0]
	}

	out := &Page{TotalResults: f.total}
	for i := (page - 1) * perPage; i < page*perPage && i < f.total; i++ {
		out.Companies = append(out.Companies, models.Company{
			Siren: fmt.Sprintf("%09d", i+1),
			Name:  fmt.Sprintf("Company %d", i+1),
		})
	}
	return out, nil
}

type fakeBlacklist struct {
	sirens []string
	err    error
}

func (f *fakeBlacklist) Sirens(ctx context.Context, actorID string) ([]string, error) {
	return f.sirens, f.err
}

// sleepRecorder is a fake clock that advances by every recorded sleep.
type sleepRecorder struct {
	clock time.Time
	waits []time.Duration
}

func (s *sleepRecorder) now() time.Time { return s.clock }

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	s.clock = s.clock.Add(d)
	return ctx.Err()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RequestDelay = 0
	return opts
}

func newTestEngine(t *testing.T, reg PageFetcher, bl BlacklistReader, opts Options) (*Engine, *sleepRecorder) {
	t.Helper()
	e := NewEngine(reg, location.Default(), bl, opts, logger.Get())
	rec := &sleepRecorder{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e.limiter.now = rec.now
	e.limiter.sleep = rec.sleep
	e.intn = rand.New(rand.NewPCG(42, 1)).IntN
	return e, rec
}

func sirens(cs []models.Company) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Siren
	}
	return out
}

func TestPlanFor(t *testing.T) {
	assert.Equal(t, Plan{PoolSize: 60, PagesNeeded: 3}, PlanFor(10, 6, 25))
	assert.Equal(t, Plan{PoolSize: 25, PagesNeeded: 1}, PlanFor(5, 5, 25))
	assert.Equal(t, Plan{PoolSize: 26, PagesNeeded: 2}, PlanFor(13, 2, 25))
	assert.Equal(t, Plan{}, PlanFor(0, 6, 25))
}

func TestSearch_FetchesPagesInOrderAndTruncates(t *testing.T) {
	reg := newFakeRegistry(1000)
	e, _ := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, reg.calls)
	for _, pp := range reg.perPage {
		assert.Equal(t, 25, pp)
	}
	assert.Equal(t, 75, res.Fetched)
	assert.Len(t, res.Companies, 10)
	assert.Equal(t, Plan{PoolSize: 60, PagesNeeded: 3}, res.Plan)
}

func TestSearch_StopsOnShortPage(t *testing.T) {
	reg := newFakeRegistry(30)
	e, _ := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 20})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, reg.calls, "page 2 is short so pages 3..5 are never requested")
	assert.Len(t, res.Companies, 20)
}

func TestSearch_PoolSmallerThanRequestIsNotAnError(t *testing.T) {
	reg := newFakeRegistry(7)
	e, _ := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)

	assert.Len(t, res.Companies, 7)
	assert.ElementsMatch(t,
		[]string{"000000001", "000000002", "000000003", "000000004", "000000005", "000000006", "000000007"},
		sirens(res.Companies))
}

func TestSearch_ExcludesBlacklistedCompanies(t *testing.T) {
	reg := newFakeRegistry(25)
	contacted := []string{"000000001", "000000005", "000000010", "000000025"}
	e, _ := newTestEngine(t, reg, &fakeBlacklist{sirens: contacted}, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 25, ActorID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Excluded)
	assert.Len(t, res.Companies, 21)
	for _, s := range contacted {
		assert.NotContains(t, sirens(res.Companies), s)
	}
}

func TestSearch_BlacklistIgnoredWithoutActor(t *testing.T) {
	reg := newFakeRegistry(25)
	bl := &fakeBlacklist{sirens: []string{"000000001"}}
	e, _ := newTestEngine(t, reg, bl, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 25})
	require.NoError(t, err)
	assert.Contains(t, sirens(res.Companies), "000000001")
}

func TestSearch_BlacklistErrorFailsSearch(t *testing.T) {
	reg := newFakeRegistry(25)
	e, _ := newTestEngine(t, reg, &fakeBlacklist{err: errors.New("db down")}, testOptions())

	_, err := e.Search(context.Background(), models.SearchFilters{Count: 5, ActorID: "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestSearch_RepeatedSearchesAreDiverse(t *testing.T) {
	const (
		searches = 5
		k        = 4
	)

	t.Run("with contacted companies recorded", func(t *testing.T) {
		reg := newFakeRegistry(searches * k * 6)
		bl := &fakeBlacklist{}
		e, _ := newTestEngine(t, reg, bl, testOptions())

		union := map[string]bool{}
		for range searches {
			res, err := e.Search(context.Background(), models.SearchFilters{Count: k, ActorID: "user-1"})
			require.NoError(t, err)
			require.Len(t, res.Companies, k)
			for _, c := range res.Companies {
				union[c.Siren] = true
				bl.sirens = append(bl.sirens, c.Siren)
			}
		}
		assert.Len(t, union, searches*k)
	})

	t.Run("without an actor", func(t *testing.T) {
		reg := newFakeRegistry(searches * k * 6)
		e, _ := newTestEngine(t, reg, nil, testOptions())

		union := map[string]bool{}
		for range searches {
			res, err := e.Search(context.Background(), models.SearchFilters{Count: k})
			require.NoError(t, err)
			for _, c := range res.Companies {
				union[c.Siren] = true
			}
		}
		// a deterministic first-k feed would give exactly k
		assert.Greater(t, len(union), 2*k)
	})
}

func TestSearch_RetriesSamePageOnRateLimit(t *testing.T) {
	reg := newFakeRegistry(1000)
	reg.failPage(2, ErrRateLimited, ErrRateLimited)
	e, rec := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 2, 2, 3}, reg.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
	assert.Equal(t, 0, res.FailedPages)
	assert.Equal(t, 75, res.Fetched)
}

func TestSearch_RateLimitRetriesAreBounded(t *testing.T) {
	reg := newFakeRegistry(1000)
	reg.alwaysFail(1, fmt.Errorf("page 1: %w", ErrRateLimited))
	e, rec := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 1, 1, 1, 2, 3}, reg.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.waits)
	assert.Equal(t, 1, res.FailedPages)
	assert.Equal(t, 50, res.Fetched)
}

func TestRetryCeiling(t *testing.T) {
	assert.Equal(t, 16*time.Second, retryCeiling(time.Second, 4))
	assert.Equal(t, time.Second, retryCeiling(time.Second, 0))
	assert.Equal(t, MaxRetryInterval, retryCeiling(time.Second, 64))
	assert.Equal(t, MaxRetryInterval, retryCeiling(time.Second, 1000))
	assert.Equal(t, MaxRetryInterval, retryCeiling(time.Hour, 2))
	assert.Equal(t, MaxRetryInterval, retryCeiling(0, 3))
}

func TestEngine_RetryPolicyWithManyRetries(t *testing.T) {
	opts := testOptions()
	opts.MaxRetries = 100
	e, _ := newTestEngine(t, newFakeRegistry(10), nil, opts)

	b := e.retryPolicy()
	for i := 0; i < 100; i++ {
		wait := b.NextBackOff()
		require.Positive(t, wait, "retry %d", i)
		require.LessOrEqual(t, wait, MaxRetryInterval, "retry %d", i)
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestSearch_PageErrorIsSkipped(t *testing.T) {
	reg := newFakeRegistry(1000)
	reg.failPage(2, errors.New("boom"))
	e, rec := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, reg.calls)
	assert.Empty(t, rec.waits)
	assert.Equal(t, 1, res.FailedPages)
	assert.Equal(t, 50, res.Fetched)
	assert.Len(t, res.Companies, 10)
}

func TestSearch_AllPagesFailed(t *testing.T) {
	reg := newFakeRegistry(1000)
	for p := 1; p <= 3; p++ {
		reg.alwaysFail(p, errors.New("connection refused"))
	}
	e, _ := newTestEngine(t, reg, nil, testOptions())

	_, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSearch_EmptyRegistryIsNotAFailure(t *testing.T) {
	reg := newFakeRegistry(0)
	e, _ := newTestEngine(t, reg, nil, testOptions())

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Companies)
}

func TestSearch_CancelledContext(t *testing.T) {
	reg := newFakeRegistry(1000)
	e, _ := newTestEngine(t, reg, nil, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, models.SearchFilters{Count: 10})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reg.calls)
}

func TestSearch_RejectsNonPositiveCount(t *testing.T) {
	e, _ := newTestEngine(t, newFakeRegistry(10), nil, testOptions())

	_, err := e.Search(context.Background(), models.SearchFilters{Count: 0})
	assert.Error(t, err)
}

func TestSearch_StrictLocationRejectsUnresolved(t *testing.T) {
	reg := newFakeRegistry(100)
	e, _ := newTestEngine(t, reg, nil, testOptions())

	_, err := e.Search(context.Background(), models.SearchFilters{Count: 5, Location: "Pariss"})
	require.ErrorIs(t, err, ErrLocationUnresolved)

	var locErr *LocationError
	require.ErrorAs(t, err, &locErr)
	assert.Equal(t, location.TypeUnknownCity, locErr.Result.Type)
	assert.Contains(t, locErr.Result.Suggestions, "paris")
	assert.Empty(t, reg.calls)
}

func TestSearch_LenientLocationProceedsWithoutPostalFilter(t *testing.T) {
	reg := newFakeRegistry(100)
	opts := testOptions()
	opts.LocationStrict = false
	e, _ := newTestEngine(t, reg, nil, opts)

	res, err := e.Search(context.Background(), models.SearchFilters{Count: 5, Location: "Pariss"})
	require.NoError(t, err)

	assert.Len(t, res.Companies, 5)
	require.NotNil(t, res.Location)
	assert.False(t, res.Location.Success)
	require.NotEmpty(t, reg.params)
	assert.Empty(t, reg.params[0].Get("code_postal"))
}

func TestBuildParams_Defaults(t *testing.T) {
	e, _ := newTestEngine(t, newFakeRegistry(0), nil, testOptions())

	params, loc, err := e.BuildParams(models.SearchFilters{SectorCode: "6201", Location: "Lyon", Count: 5})
	require.NoError(t, err)
	require.NotNil(t, loc)

	assert.Equal(t, "62.01Z", params.Get("activite_principale"))
	assert.Equal(t, "69001,69002,69003,69004,69005,69006,69007,69008,69009", params.Get("code_postal"))
	assert.Equal(t, "12,21,22,31,32,41,42,51,52,53", params.Get("tranche_effectif_salarie"))
	assert.Equal(t, "false", params.Get("est_entrepreneur_individuel"))
	assert.Equal(t, "A", params.Get("etat_administratif"))
	assert.False(t, params.Has("nature_juridique"))
	assert.False(t, params.Has("categorie_entreprise"))
}

func TestBuildParams_Overrides(t *testing.T) {
	opts := testOptions()
	opts.DefaultBrackets = []string{"21"}
	e, _ := newTestEngine(t, newFakeRegistry(0), nil, opts)

	params, loc, err := e.BuildParams(models.SearchFilters{
		Location:               "75008",
		Brackets:               []string{"03", "11"},
		LegalNature:            "5710",
		Category:               "PME",
		AdministrativeStatus:   "all",
		IncludeSoleProprietors: true,
	})
	require.NoError(t, err)
	require.NotNil(t, loc)

	assert.Equal(t, "75008", params.Get("code_postal"))
	assert.Equal(t, "03,11", params.Get("tranche_effectif_salarie"))
	assert.Equal(t, "5710", params.Get("nature_juridique"))
	assert.Equal(t, "PME", params.Get("categorie_entreprise"))
	assert.False(t, params.Has("etat_administratif"))
	assert.False(t, params.Has("est_entrepreneur_individuel"))
}

func TestBuildParams_ConfiguredDefaultBrackets(t *testing.T) {
	opts := testOptions()
	opts.DefaultBrackets = []string{"21", "22"}
	e, _ := newTestEngine(t, newFakeRegistry(0), nil, opts)

	params, _, err := e.BuildParams(models.SearchFilters{AdministrativeStatus: "C"})
	require.NoError(t, err)

	assert.Equal(t, "21,22", params.Get("tranche_effectif_salarie"))
	assert.Equal(t, "C", params.Get("etat_administratif"))
}

func TestExcludeContacted(t *testing.T) {
	pool := []models.Company{{Siren: "1"}, {Siren: "2"}, {Siren: "3"}}

	assert.Equal(t, []string{"1", "3"}, sirens(ExcludeContacted(pool, []string{"2", "9"})))
	assert.Len(t, ExcludeContacted([]models.Company{{Siren: "1"}}, nil), 1)
}

func TestSearch_RecordsMetrics(t *testing.T) {
	reg := newFakeRegistry(1000)
	reg.failPage(2, errors.New("boom"))
	e, _ := newTestEngine(t, reg, nil, testOptions())
	m := metrics.New(prometheus.NewRegistry())
	e.WithMetrics(m)

	_, err := e.Search(context.Background(), models.SearchFilters{Count: 10})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Searches.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistryPages.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryPages.WithLabelValues("failed")))
}
