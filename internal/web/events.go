package web

import (
	"encoding/json"
	"fmt"
)

// WebSocket event types
const (
	EventCampaignProgress  = "campaign.progress"
	EventCampaignStatus    = "campaign.status_changed"
	EventCampaignCompleted = "campaign.completed"
	EventCompanyEnriched   = "company.enriched"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Event encodes a typed message for Broadcast.
func Event(eventType string, payload any) []byte {
	b, err := json.Marshal(WSEvent{Type: eventType, Payload: payload})
	if err != nil {
		return nil
	}
	return b
}

// Relay returns a message-bus handler that forwards each JSON payload to b
// as an event of eventType. Malformed payloads are rejected so the bus
// redelivers them.
func Relay(b interface{ Broadcast(v any) }, eventType string) func([]byte) error {
	return func(data []byte) error {
		if !json.Valid(data) {
			return fmt.Errorf("relay %s: invalid json payload", eventType)
		}
		b.Broadcast(Event(eventType, json.RawMessage(data)))
		return nil
	}
}
