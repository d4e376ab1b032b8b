package db

import (
	"encoding/json"
	"time"
)

// EventRecord is one journaled engine event.
type EventRecord struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	CampaignID string          `json:"campaign_id,omitempty"`
	InstID     string          `json:"inst_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventFilter narrows ListEvents. Zero fields do not filter.
type EventFilter struct {
	CampaignID string
	Event      string
	Since      time.Time
	Limit      int
}
