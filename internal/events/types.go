package events

import "time"

// Event enumerates high-level topics inside the trading engine.
type Event string

const (
	EventCampaignStarted    Event = "campaign.started"
	EventCampaignStopped    Event = "campaign.stopped"
	EventStreamConnected    Event = "stream.connected"
	EventStreamReconnecting Event = "stream.reconnecting"
	EventStreamClosed       Event = "stream.closed"
	EventSignalDetected     Event = "signal.detected"
	EventOrderResult        Event = "order.result"
	EventTrailingArmed      Event = "trailing.armed"
	EventPositionsRefreshed Event = "positions.refreshed"
	EventEvaluationError    Event = "evaluation.error"
)

// All lists every topic.
var All = []Event{
	EventCampaignStarted,
	EventCampaignStopped,
	EventStreamConnected,
	EventStreamReconnecting,
	EventStreamClosed,
	EventSignalDetected,
	EventOrderResult,
	EventTrailingArmed,
	EventPositionsRefreshed,
	EventEvaluationError,
}

// Scoped is implemented by payloads that belong to a campaign.
type Scoped interface {
	Campaign() string
}

type CampaignPayload struct {
	CampaignID string `json:"campaign_id"`
	Symbols    int    `json:"symbols,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type StreamPayload struct {
	CampaignID string        `json:"campaign_id"`
	Kind       string        `json:"kind"`
	Reconnect  bool          `json:"reconnect,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Wait       time.Duration `json:"wait,omitempty"`
	Code       int           `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type SignalPayload struct {
	CampaignID string  `json:"campaign_id"`
	InstID     string  `json:"inst_id"`
	Type       string  `json:"type"`
	Timestamp  int64   `json:"ts"`
	Price      float64 `json:"price"`
	Slope      float64 `json:"slope"`
	ShortEMA   float64 `json:"short_ema"`
	LongEMA    float64 `json:"long_ema"`
}

// OrderPayload reports a gateway result. Skipped results carry only Reason.
type OrderPayload struct {
	CampaignID    string  `json:"campaign_id"`
	InstID        string  `json:"inst_id"`
	Action        string  `json:"action"`
	PosSide       string  `json:"pos_side"`
	ClientOrderID string  `json:"cl_ord_id,omitempty"`
	Attempts      int     `json:"attempts"`
	Code          string  `json:"code,omitempty"`
	Msg           string  `json:"msg,omitempty"`
	OK            bool    `json:"ok"`
	Error         string  `json:"error,omitempty"`
	Skipped       bool    `json:"skipped,omitempty"`
	Tolerated     bool    `json:"tolerated,omitempty"` // failed close that did not block the open
	Reason        string  `json:"reason,omitempty"`
	EstimatedStop float64 `json:"estimated_stop,omitempty"`
	EstimatedPnL  float64 `json:"estimated_pnl,omitempty"`
}

type TrailingPayload struct {
	CampaignID    string  `json:"campaign_id"`
	InstID        string  `json:"inst_id"`
	PosSide       string  `json:"pos_side"`
	MarkPx        float64 `json:"mark_px"`
	EntryPx       float64 `json:"entry_px"`
	Threshold     float64 `json:"threshold"`
	ATR           float64 `json:"atr"`
	CallbackRatio float64 `json:"callback_ratio"`
	OK            bool    `json:"ok"`
	Error         string  `json:"error,omitempty"`
}

type PositionsPayload struct {
	CampaignID string `json:"campaign_id"`
	Count      int    `json:"count"`
}

type ErrorPayload struct {
	CampaignID string `json:"campaign_id"`
	InstID     string `json:"inst_id,omitempty"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

func (p CampaignPayload) Campaign() string  { return p.CampaignID }
func (p StreamPayload) Campaign() string    { return p.CampaignID }
func (p SignalPayload) Campaign() string    { return p.CampaignID }
func (p OrderPayload) Campaign() string     { return p.CampaignID }
func (p TrailingPayload) Campaign() string  { return p.CampaignID }
func (p PositionsPayload) Campaign() string { return p.CampaignID }
func (p ErrorPayload) Campaign() string     { return p.CampaignID }

// Instrumented is implemented by payloads tied to one instrument.
type Instrumented interface {
	Instrument() string
}

func (p SignalPayload) Instrument() string   { return p.InstID }
func (p OrderPayload) Instrument() string    { return p.InstID }
func (p TrailingPayload) Instrument() string { return p.InstID }
func (p ErrorPayload) Instrument() string    { return p.InstID }
