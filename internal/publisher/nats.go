// Package publisher emits domain events on NATS subjects.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	SubjectCampaignProgress  = "campaigns.progress"
	SubjectCampaignCompleted = "campaigns.completed"
	SubjectCompanyEnriched   = "companies.enriched"
	SubjectCompaniesSaved    = "companies.saved"
)

// CampaignProgressEvent is published after every send attempt.
type CampaignProgressEvent struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Success    bool      `json:"success"`
	To         string    `json:"to,omitempty"`
	At         time.Time `json:"at"`
}

// CampaignCompletedEvent is published when a dispatch run ends.
type CampaignCompletedEvent struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Deferred   int       `json:"deferred"`
	Cancelled  bool      `json:"cancelled"`
	At         time.Time `json:"at"`
}

// CompanyEnrichedEvent is published once contact discovery finished for a
// company.
type CompanyEnrichedEvent struct {
	CompanyID uuid.UUID `json:"company_id"`
	Siren     string    `json:"siren"`
	Website   string    `json:"website,omitempty"`
	Emails    int       `json:"emails"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// CompaniesSavedEvent is published after a batch of search results was
// persisted.
type CompaniesSavedEvent struct {
	IDs []uuid.UUID `json:"ids"`
	At  time.Time   `json:"at"`
}

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON events on core NATS subjects, which the
// jetstream streams capture.
type NATSPublisher struct {
	js NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{js: conn}
}

// PublishCampaignProgress publishes a progress tick.
func (p *NATSPublisher) PublishCampaignProgress(ctx context.Context, event CampaignProgressEvent) error {
	return p.publish(ctx, SubjectCampaignProgress, event)
}

// PublishCampaignCompleted publishes the end of a dispatch run.
func (p *NATSPublisher) PublishCampaignCompleted(ctx context.Context, event CampaignCompletedEvent) error {
	return p.publish(ctx, SubjectCampaignCompleted, event)
}

// PublishCompanyEnriched publishes a discovery result.
func (p *NATSPublisher) PublishCompanyEnriched(ctx context.Context, event CompanyEnrichedEvent) error {
	return p.publish(ctx, SubjectCompanyEnriched, event)
}

// PublishCompaniesSaved publishes persisted search results.
func (p *NATSPublisher) PublishCompaniesSaved(ctx context.Context, event CompaniesSavedEvent) error {
	return p.publish(ctx, SubjectCompaniesSaved, event)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}

// Nop discards every event. Used when NATS is not reachable at startup.
type Nop struct{}

func (Nop) PublishCampaignProgress(context.Context, CampaignProgressEvent) error   { return nil }
func (Nop) PublishCampaignCompleted(context.Context, CampaignCompletedEvent) error { return nil }
func (Nop) PublishCompanyEnriched(context.Context, CompanyEnrichedEvent) error     { return nil }
func (Nop) PublishCompaniesSaved(context.Context, CompaniesSavedEvent) error       { return nil }
