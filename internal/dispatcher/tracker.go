package dispatcher

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/metrics"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/publisher"
	"github.com/blockedby/prospect-os/internal/web"
)

// Broadcaster pushes messages to connected UI clients.
type Broadcaster interface {
	Broadcast(v any)
}

// EventPublisher publishes campaign events on the message bus.
type EventPublisher interface {
	PublishCampaignProgress(ctx context.Context, event publisher.CampaignProgressEvent) error
	PublishCampaignCompleted(ctx context.Context, event publisher.CampaignCompletedEvent) error
}

// StatusChangeEvent represents a campaign status change
type StatusChangeEvent struct {
	CampaignID     string    `json:"campaign_id"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	CurrentStatus  string    `json:"current_status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProgressEvent represents a progress update during sending
type ProgressEvent struct {
	CampaignID string `json:"campaign_id"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Success    bool   `json:"success"`
	To         string `json:"to,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// CompletedEvent summarizes a finished run.
type CompletedEvent struct {
	CampaignID string `json:"campaign_id"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Deferred   int    `json:"deferred"`
	Cancelled  bool   `json:"cancelled"`
}

// Tracker fans campaign activity out to the websocket hub, the message bus
// and the metrics registry. Every sink is optional.
type Tracker struct {
	hub     Broadcaster
	events  EventPublisher
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(hub Broadcaster, events EventPublisher, m *metrics.Metrics, log *logger.Logger) *Tracker {
	return &Tracker{
		hub:     hub,
		events:  events,
		metrics: m,
		log:     log.Component("campaign-tracker"),
		now:     time.Now,
	}
}

// StatusChanged reports a lifecycle transition.
func (t *Tracker) StatusChanged(id uuid.UUID, from, to models.CampaignStatus) {
	if t.hub != nil {
		t.hub.Broadcast(web.Event(web.EventCampaignStatus, StatusChangeEvent{
			CampaignID:     id.String(),
			PreviousStatus: string(from),
			CurrentStatus:  string(to),
			UpdatedAt:      t.now(),
		}))
	}
	t.log.Info().
		Str("campaign_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("campaign status changed")
}

// Started reports the launch of a dispatch run.
func (t *Tracker) Started(id uuid.UUID, jobs int) {
	t.metrics.CampaignStarted()
	t.log.Info().Str("campaign_id", id.String()).Int("jobs", jobs).Msg("campaign run started")
}

// Progress reports one send attempt.
func (t *Tracker) Progress(ctx context.Context, id uuid.UUID, p Progress) {
	t.metrics.ObserveSend(p.LastSuccess)

	evt := ProgressEvent{
		CampaignID: id.String(),
		Current:    p.Processed,
		Total:      p.Total,
		Success:    p.LastSuccess,
		To:         p.Outcome.Job.To,
	}
	if !p.LastSuccess {
		evt.Error = p.Outcome.Error
		evt.Retryable = isRetryable(p.Outcome.Error)
	}
	if t.hub != nil {
		t.hub.Broadcast(web.Event(web.EventCampaignProgress, evt))
	}

	if t.events != nil {
		err := t.events.PublishCampaignProgress(ctx, publisher.CampaignProgressEvent{
			CampaignID: id,
			Current:    p.Processed,
			Total:      p.Total,
			Success:    p.LastSuccess,
			To:         p.Outcome.Job.To,
			At:         t.now(),
		})
		if err != nil {
			t.log.Warn().Err(err).Str("campaign_id", id.String()).Msg("failed to publish progress")
		}
	}

	if p.LastSuccess {
		t.log.Info().
			Str("campaign_id", id.String()).
			Int("current", p.Processed).
			Int("total", p.Total).
			Str("to", p.Outcome.Job.To).
			Msg("email sent")
		return
	}
	t.log.Error().
		Str("campaign_id", id.String()).
		Int("current", p.Processed).
		Int("total", p.Total).
		Str("to", p.Outcome.Job.To).
		Str("error", p.Outcome.Error).
		Msg("email failed")
}

// Completed reports the end of a run.
func (t *Tracker) Completed(ctx context.Context, id uuid.UUID, evt CompletedEvent) {
	evt.CampaignID = id.String()
	t.metrics.CampaignFinished()
	if t.hub != nil {
		t.hub.Broadcast(web.Event(web.EventCampaignCompleted, evt))
	}
	if t.events != nil {
		err := t.events.PublishCampaignCompleted(ctx, publisher.CampaignCompletedEvent{
			CampaignID: id,
			Sent:       evt.Sent,
			Failed:     evt.Failed,
			Deferred:   evt.Deferred,
			Cancelled:  evt.Cancelled,
			At:         t.now(),
		})
		if err != nil {
			t.log.Warn().Err(err).Str("campaign_id", id.String()).Msg("failed to publish completion")
		}
	}
	t.log.Info().
		Str("campaign_id", id.String()).
		Int("sent", evt.Sent).
		Int("failed", evt.Failed).
		Int("deferred", evt.Deferred).
		Bool("cancelled", evt.Cancelled).
		Msg("campaign run finished")
}

var transientReply = regexp.MustCompile(`\b(421|45[0-2])\b`)

// isRetryable reports whether a send error looks transient: SMTP 4xx
// replies and network trouble.
func isRetryable(errMsg string) bool {
	if errMsg == "" {
		return false
	}
	msg := strings.ToLower(errMsg)
	if transientReply.MatchString(msg) {
		return true
	}
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "dial")
}
