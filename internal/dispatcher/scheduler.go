// Package dispatcher sends campaign emails one at a time under a daily cap
// with randomized spacing, and drives the campaign lifecycle around it.
package dispatcher

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/mailer"
	"github.com/blockedby/prospect-os/internal/models"
)

// DefaultMaxJitter is the upper bound of the random delay added between sends.
const DefaultMaxJitter = 15 * time.Second

// Config is the rate policy of one dispatch run.
type Config struct {
	PerDayCap int
	Delay     time.Duration
	MaxJitter time.Duration
	// ExemptFailures stops failed attempts from consuming the daily cap.
	ExemptFailures bool
}

// Progress is reported after every attempt.
type Progress struct {
	Processed   int
	Total       int
	LastSuccess bool
	Outcome     models.SendOutcome
}

// ProgressFunc receives progress. It runs on the dispatch goroutine.
type ProgressFunc func(Progress)

// Scheduler sends jobs sequentially through a mail transport.
type Scheduler struct {
	transport mailer.Transport
	log       *logger.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
}

// NewScheduler creates a scheduler over transport.
func NewScheduler(transport mailer.Transport, log *logger.Logger) *Scheduler {
	return &Scheduler{
		transport: transport,
		log:       log.Component("dispatcher"),
		now:       time.Now,
		sleep:     sleepContext,
		jitter:    randomJitter,
	}
}

// Run attempts jobs in order until the cap is reached, the list is exhausted
// or ctx ends. It returns one outcome per attempted job, in input order.
// Jobs past the cap are not attempted. On cancellation the outcomes gathered
// so far are returned along with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, jobs []models.EmailJob, cfg Config, progress ProgressFunc) ([]models.SendOutcome, error) {
	outcomes := make([]models.SendOutcome, 0, min(len(jobs), max(cfg.PerDayCap, 0)))
	counted := 0

	for i, job := range jobs {
		if counted >= cfg.PerDayCap {
			s.log.Info().
				Int("cap", cfg.PerDayCap).
				Int("deferred", len(jobs)-i).
				Msg("daily cap reached, remaining jobs deferred")
			break
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		res := s.transport.Send(ctx, mailer.Message{
			To:         job.To,
			Subject:    job.Subject,
			HTMLBody:   job.Body,
			Attachment: job.Attachment,
		})
		outcome := models.SendOutcome{
			Job:       job,
			Success:   res.Success,
			MessageID: res.MessageID,
			Error:     res.Error,
			SentAt:    s.now(),
		}
		if !res.Success && outcome.Error == "" {
			outcome.Error = "unknown transport error"
		}
		outcomes = append(outcomes, outcome)

		if res.Success || !cfg.ExemptFailures {
			counted++
		}

		if progress != nil {
			progress(Progress{
				Processed:   i + 1,
				Total:       len(jobs),
				LastSuccess: res.Success,
				Outcome:     outcome,
			})
		}

		// no wait after the last attempt of the run
		if i == len(jobs)-1 || counted >= cfg.PerDayCap {
			continue
		}
		wait := cfg.Delay + s.jitter(cfg.MaxJitter)
		s.log.Debug().Dur("wait", wait).Int("next", i+2).Msg("waiting before next send")
		if err := s.sleep(ctx, wait); err != nil {
			return outcomes, err
		}
	}

	return outcomes, nil
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
