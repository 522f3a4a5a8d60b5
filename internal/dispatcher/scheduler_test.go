package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/prospect-os/internal/mailer"
	"github.com/blockedby/prospect-os/internal/models"
)

// fakeTransport succeeds unless the recipient is listed in fail.
type fakeTransport struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail map[string]string
	// onSend runs inside Send, after the message is recorded.
	onSend func(n int)
}

func (f *fakeTransport) Send(_ context.Context, msg mailer.Message) mailer.Result {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	errText, failing := f.fail[msg.To]
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(n)
	}
	if failing {
		return mailer.Result{Error: errText}
	}
	return mailer.Result{Success: true, MessageID: fmt.Sprintf("id-%d@test", n)}
}

func (f *fakeTransport) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.To
	}
	return out
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestScheduler(tr mailer.Transport, jitter time.Duration) (*Scheduler, *sleepLog) {
	s := NewScheduler(tr, nil)
	rec := &sleepLog{}
	s.sleep = rec.sleep
	s.jitter = func(time.Duration) time.Duration { return jitter }
	s.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return s, rec
}

func makeJobs(n int) []models.EmailJob {
	campaign := uuid.New()
	jobs := make([]models.EmailJob, n)
	for i := range jobs {
		jobs[i] = models.EmailJob{
			To:         fmt.Sprintf("rh%d@example.org", i+1),
			Subject:    "Candidature",
			Body:       "<p>Bonjour</p>",
			CompanyID:  uuid.New(),
			Siren:      fmt.Sprintf("%09d", i+1),
			CampaignID: campaign,
		}
	}
	return jobs
}

func countingConfig(perDay int) Config {
	return Config{PerDayCap: perDay, Delay: 45 * time.Second, MaxJitter: DefaultMaxJitter}
}

func TestScheduler_CapDefersRemainingJobs(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := newTestScheduler(tr, 0)
	jobs := makeJobs(5)

	outcomes, err := s.Run(context.Background(), jobs, countingConfig(3), nil)
	require.NoError(t, err)

	require.Len(t, outcomes, 3)
	assert.Equal(t, []string{"rh1@example.org", "rh2@example.org", "rh3@example.org"}, tr.recipients())
}

func TestScheduler_OutcomeCountIsMinOfCapAndJobs(t *testing.T) {
	for _, tc := range []struct{ jobs, perDay int }{{0, 3}, {2, 3}, {3, 3}, {7, 3}, {4, 0}, {1, 1}} {
		t.Run(fmt.Sprintf("%d jobs cap %d", tc.jobs, tc.perDay), func(t *testing.T) {
			s, _ := newTestScheduler(&fakeTransport{}, 0)
			outcomes, err := s.Run(context.Background(), makeJobs(tc.jobs), countingConfig(tc.perDay), nil)
			require.NoError(t, err)
			assert.Len(t, outcomes, min(tc.jobs, tc.perDay))
		})
	}
}

func TestScheduler_PreservesJobOrder(t *testing.T) {
	tr := &fakeTransport{fail: map[string]string{"rh2@example.org": "550 mailbox unavailable"}}
	s, _ := newTestScheduler(tr, 0)
	jobs := makeJobs(4)

	outcomes, err := s.Run(context.Background(), jobs, countingConfig(10), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	for i, o := range outcomes {
		assert.Equal(t, jobs[i], o.Job, "outcome %d", i)
	}
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "id-1@test", outcomes[0].MessageID)
	assert.False(t, outcomes[1].Success)
	assert.Equal(t, "550 mailbox unavailable", outcomes[1].Error)
	assert.Empty(t, outcomes[1].MessageID)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), outcomes[2].SentAt)
}

func TestScheduler_FailuresCountAgainstCap(t *testing.T) {
	tr := &fakeTransport{fail: map[string]string{"rh1@example.org": "boom"}}
	s, _ := newTestScheduler(tr, 0)

	outcomes, err := s.Run(context.Background(), makeJobs(5), countingConfig(2), nil)
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Success)
	assert.True(t, outcomes[1].Success)
}

func TestScheduler_FailuresNotCounted(t *testing.T) {
	tr := &fakeTransport{fail: map[string]string{"rh1@example.org": "boom", "rh3@example.org": "boom"}}
	s, _ := newTestScheduler(tr, 0)
	cfg := countingConfig(2)
	cfg.ExemptFailures = true

	outcomes, err := s.Run(context.Background(), makeJobs(6), cfg, nil)
	require.NoError(t, err)

	// two successes needed: rh2 and rh4
	require.Len(t, outcomes, 4)
	assert.Equal(t, []string{"rh1@example.org", "rh2@example.org", "rh3@example.org", "rh4@example.org"}, tr.recipients())
}

func TestScheduler_MissingErrorTextIsFilled(t *testing.T) {
	tr := &fakeTransport{fail: map[string]string{"rh1@example.org": ""}}
	s, _ := newTestScheduler(tr, 0)

	outcomes, err := s.Run(context.Background(), makeJobs(1), countingConfig(1), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.NotEmpty(t, outcomes[0].Error)
}

func TestScheduler_WaitsBetweenSendsOnly(t *testing.T) {
	s, rec := newTestScheduler(&fakeTransport{}, 7*time.Second)

	_, err := s.Run(context.Background(), makeJobs(3), countingConfig(10), nil)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{52 * time.Second, 52 * time.Second}, rec.waits)
}

func TestScheduler_NoWaitOnceCapReached(t *testing.T) {
	s, rec := newTestScheduler(&fakeTransport{}, 0)

	_, err := s.Run(context.Background(), makeJobs(5), countingConfig(2), nil)
	require.NoError(t, err)

	assert.Len(t, rec.waits, 1)
}

func TestScheduler_SingleJobNoWait(t *testing.T) {
	s, rec := newTestScheduler(&fakeTransport{}, 0)

	_, err := s.Run(context.Background(), makeJobs(1), countingConfig(5), nil)
	require.NoError(t, err)
	assert.Empty(t, rec.waits)
}

func TestScheduler_JitterIsDrawnPerGap(t *testing.T) {
	s, rec := newTestScheduler(&fakeTransport{}, 0)
	var limits []time.Duration
	draws := []time.Duration{3 * time.Second, 11 * time.Second}
	s.jitter = func(limit time.Duration) time.Duration {
		limits = append(limits, limit)
		d := draws[0]
		draws = draws[1:]
		return d
	}

	_, err := s.Run(context.Background(), makeJobs(3), countingConfig(5), nil)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{DefaultMaxJitter, DefaultMaxJitter}, limits)
	assert.Equal(t, []time.Duration{48 * time.Second, 56 * time.Second}, rec.waits)
}

func TestRandomJitter_Bounds(t *testing.T) {
	assert.Zero(t, randomJitter(0))
	assert.Zero(t, randomJitter(-time.Second))

	seen := map[time.Duration]bool{}
	for range 2000 {
		d := randomJitter(DefaultMaxJitter)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, DefaultMaxJitter)
		seen[d/time.Second] = true
	}
	// every whole-second bucket of [0, 15s) shows up in 2000 draws
	assert.Len(t, seen, 15)
}

func TestScheduler_ReportsProgressAfterEachAttempt(t *testing.T) {
	tr := &fakeTransport{fail: map[string]string{"rh2@example.org": "boom"}}
	s, _ := newTestScheduler(tr, 0)

	var got []Progress
	_, err := s.Run(context.Background(), makeJobs(3), countingConfig(5), func(p Progress) {
		got = append(got, p)
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	for i, p := range got {
		assert.Equal(t, i+1, p.Processed)
		assert.Equal(t, 3, p.Total)
	}
	assert.True(t, got[0].LastSuccess)
	assert.False(t, got[1].LastSuccess)
	assert.Equal(t, "boom", got[1].Outcome.Error)
	assert.True(t, got[2].LastSuccess)
}

func TestScheduler_CancelledBeforeStart(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := newTestScheduler(tr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := s.Run(ctx, makeJobs(3), countingConfig(5), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
	assert.Empty(t, tr.recipients())
}

func TestScheduler_CancelDuringWaitKeepsOutcomes(t *testing.T) {
	tr := &fakeTransport{}
	s := NewScheduler(tr, nil)
	s.jitter = func(time.Duration) time.Duration { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := countingConfig(10)
	cfg.Delay = time.Hour

	done := make(chan struct{})
	var outcomes []models.SendOutcome
	var err error
	go func() {
		outcomes, err = s.Run(ctx, makeJobs(4), cfg, nil)
		close(done)
	}()

	// first job then an hour-long wait: cancel it from the outside
	require.Eventually(t, func() bool { return len(tr.recipients()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
