package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailJob is one rendered email ready to be handed to the mail transport.
// It is consumed exactly once by a dispatch run.
type EmailJob struct {
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Attachment string    `json:"attachment,omitempty"` // path on disk
	CompanyID  uuid.UUID `json:"company_id"`
	Siren      string    `json:"siren,omitempty"`
	CampaignID uuid.UUID `json:"campaign_id"`
}

// SendOutcome records the terminal result of one attempted EmailJob.
type SendOutcome struct {
	Job       EmailJob  `json:"job"`
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// SentEmailStatus is the persisted delivery state of an outcome.
type SentEmailStatus string

// SentEmailStatus values.
const (
	SentEmailStatusSent   SentEmailStatus = "sent"
	SentEmailStatusFailed SentEmailStatus = "failed"
)

// StatusOf maps an outcome to its persisted status.
func StatusOf(o SendOutcome) SentEmailStatus {
	if o.Success {
		return SentEmailStatusSent
	}
	return SentEmailStatusFailed
}

// BlacklistEntry marks a company as already contacted by an actor.
type BlacklistEntry struct {
	ActorID     string    `json:"actor_id" db:"actor_id"`
	Siren       string    `json:"siren" db:"siren"`
	ContactedAt time.Time `json:"contacted_at" db:"contacted_at"`
}
