package order

import "signal-trader/pkg/exchanges/common"

// Action names the gateway operation that produced a Result.
type Action string

const (
	ActionOpen           Action = "open"
	ActionClose          Action = "close"
	ActionTrailingStop   Action = "trailing_stop"
	ActionCancelTrailing Action = "cancel_trailing"
)

// OrdTypeTrailingStop is the OKX algo order type for trailing stops.
const OrdTypeTrailingStop = "move_order_stop"

// OpenRequest opens a position sized in USD.
type OpenRequest struct {
	CampaignID string
	InstID     string
	PosSide    common.PosSide
	MarginMode common.MarginMode
	Leverage   int
	SizeUSD    float64
	// SignalTS is the candle timestamp that triggered the action. It keeps
	// client order ids unique across signals with identical parameters.
	SignalTS int64
}

// CloseRequest closes one side of a position.
type CloseRequest struct {
	CampaignID     string
	InstID         string
	PosSide        common.PosSide
	MarginMode     common.MarginMode
	CancelTrailing bool
	SignalTS       int64
}

// TrailingRequest places a trailing stop guarding an open position.
type TrailingRequest struct {
	CampaignID    string
	InstID        string
	PosSide       common.PosSide
	MarginMode    common.MarginMode
	SizeUSD       float64
	CallbackRatio float64
}

// Result is the outcome of one gateway operation. Err is nil on success and
// otherwise wraps one of ErrTransport, ErrExchangeRejected or ErrConversion.
type Result struct {
	Action        Action
	InstID        string
	PosSide       common.PosSide
	ClientOrderID string
	Attempts      int
	Code          string
	Msg           string
	Err           error
	// Cancel holds the trailing-stop cancellation that preceded a close.
	Cancel *Result
}

// OK reports success.
func (r Result) OK() bool { return r.Err == nil }
