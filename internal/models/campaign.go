package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

// Campaign statuses. Transitions only move forward: draft → active → completed.
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
)

var campaignStatusRank = map[CampaignStatus]int{
	CampaignStatusDraft:     0,
	CampaignStatusActive:    1,
	CampaignStatusCompleted: 2,
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s CampaignStatus) CanAdvanceTo(next CampaignStatus) bool {
	from, ok := campaignStatusRank[s]
	if !ok {
		return false
	}
	to, ok := campaignStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Campaign groups templated applications sent under one rate policy.
type Campaign struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	SubjectTemplate string         `json:"template_subject" db:"subject_template"`
	BodyTemplate    string         `json:"template_body" db:"body_template"`
	Attachment      *string        `json:"cv_filename,omitempty" db:"attachment"`
	PerDayCap       int            `json:"emails_per_day" db:"per_day_cap"`
	DelaySeconds    int            `json:"delay_between_emails" db:"delay_seconds"`
	Status          CampaignStatus `json:"status" db:"status"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignStats summarizes delivery outcomes for a campaign.
type CampaignStats struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
