package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a human-facing notice derived from an engine event.
type Alert struct {
	Severity   Severity  `json:"severity"`
	CampaignID string    `json:"campaign_id,omitempty"`
	InstID     string    `json:"inst_id,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// AlertSink delivers alerts somewhere.
type AlertSink interface {
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(_ context.Context, a Alert) error {
	ev := s.Log.Warn()
	if a.Severity == SeverityCritical {
		ev = s.Log.Error()
	}
	ev.Str("campaign", a.CampaignID).Str("inst", a.InstID).Str("severity", string(a.Severity)).Msg(a.Message)
	return nil
}
