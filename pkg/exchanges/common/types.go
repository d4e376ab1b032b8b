package common

import (
	"encoding/json"
	"fmt"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PosSide is the position side in long/short position mode.
type PosSide string

const (
	PosSideLong  PosSide = "long"
	PosSideShort PosSide = "short"
)

// Opposite returns the other position side.
func (p PosSide) Opposite() PosSide {
	if p == PosSideLong {
		return PosSideShort
	}
	return PosSideLong
}

// Sign is +1 for long and -1 for short.
func (p PosSide) Sign() float64 {
	if p == PosSideShort {
		return -1
	}
	return 1
}

// OpenSide is the order side that grows a position on p.
func (p PosSide) OpenSide() Side {
	if p == PosSideShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide is the order side that reduces a position on p.
func (p PosSide) CloseSide() Side {
	if p == PosSideShort {
		return SideBuy
	}
	return SideSell
}

// Valid reports whether p is long or short.
func (p PosSide) Valid() bool {
	return p == PosSideLong || p == PosSideShort
}

// MarginMode is the trade mode of a derivatives position.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// Valid reports whether m is a supported margin mode.
func (m MarginMode) Valid() bool {
	return m == MarginIsolated || m == MarginCross
}

// Candle is one OHLCV bar. Timestamp is the bar open time in unix milliseconds.
type Candle struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"vol"`
	Confirmed bool    `json:"confirmed"`
}

// Tick is a mark-price update for one instrument.
type Tick struct {
	InstID    string  `json:"inst_id"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"ts"`
}

// Position is the cached view of an open exchange position.
type Position struct {
	InstID      string     `json:"inst_id"`
	PosSide     PosSide    `json:"pos_side"`
	MarginMode  MarginMode `json:"margin_mode"`
	AvgPx       float64    `json:"avg_px"`
	NotionalUSD float64    `json:"notional_usd"`
	Contracts   float64    `json:"contracts"`
	Leverage    float64    `json:"leverage"`
	UpdatedAt   int64      `json:"updated_at"`
}

// Response is the exchange REST envelope. A non-empty Msg means the call was rejected.
type Response struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Rejected reports whether the response carries an error message.
func (r Response) Rejected() bool {
	return r.Msg != ""
}

// OrderRequest is a market or limit order in contract units.
type OrderRequest struct {
	InstID     string     `json:"instId"`
	TdMode     MarginMode `json:"tdMode"`
	Side       Side       `json:"side"`
	PosSide    PosSide    `json:"posSide"`
	OrdType    string     `json:"ordType"`
	Size       string     `json:"sz"`
	ClOrdID    string     `json:"clOrdId,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	ReduceOnly bool       `json:"reduceOnly,omitempty"`
}

// ClosePositionRequest flattens one side of a position at market.
type ClosePositionRequest struct {
	InstID     string     `json:"instId"`
	MarginMode MarginMode `json:"mgnMode"`
	PosSide    PosSide    `json:"posSide"`
	ClOrdID    string     `json:"clOrdId,omitempty"`
	Tag        string     `json:"tag,omitempty"`
}

// AlgoOrderRequest places a conditional order such as a trailing stop.
type AlgoOrderRequest struct {
	InstID        string     `json:"instId"`
	TdMode        MarginMode `json:"tdMode"`
	Side          Side       `json:"side"`
	PosSide       PosSide    `json:"posSide"`
	OrdType       string     `json:"ordType"`
	Size          string     `json:"sz"`
	CallbackRatio string     `json:"callbackRatio,omitempty"`
	ReduceOnly    bool       `json:"reduceOnly"`
	Tag           string     `json:"tag,omitempty"`
}

// AlgoOrder is a pending conditional order.
type AlgoOrder struct {
	AlgoID        string `json:"algoId"`
	InstID        string `json:"instId"`
	OrdType       string `json:"ordType"`
	PosSide       string `json:"posSide"`
	State         string `json:"state"`
	CallbackRatio string `json:"callbackRatio"`
	Size          string `json:"sz"`
}

// ClosedPosition is one entry of the account's position history. PnL fields
// are in the settlement currency; RealizedPnL already includes fees and funding.
type ClosedPosition struct {
	InstID      string     `json:"inst_id"`
	PosSide     PosSide    `json:"pos_side"`
	MarginMode  MarginMode `json:"margin_mode"`
	Leverage    float64    `json:"leverage"`
	OpenAvgPx   float64    `json:"open_avg_px"`
	CloseAvgPx  float64    `json:"close_avg_px"`
	OpenMaxPos  float64    `json:"open_max_pos"`
	PnL         float64    `json:"pnl"`
	RealizedPnL float64    `json:"realized_pnl"`
	Fee         float64    `json:"fee"`
	FundingFee  float64    `json:"funding_fee"`
	OpenedAt    int64      `json:"opened_at"`
	UpdatedAt   int64      `json:"updated_at"`
}

// CancelAlgoRequest identifies one algo order to cancel.
type CancelAlgoRequest struct {
	AlgoID string `json:"algoId"`
	InstID string `json:"instId"`
}

// StreamArg is one websocket channel subscription argument.
type StreamArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

// StreamMessage is one decoded data push. Exactly one of Candles or Ticks is set.
type StreamMessage struct {
	Arg     StreamArg
	Candles []Candle
	Ticks   []Tick
}

// CloseNoStatus is the websocket close code observed when the peer closes
// without a status, which the engine treats as a deliberate shutdown.
const CloseNoStatus = 1005

// StreamClosedError reports how a subscription ended.
type StreamClosedError struct {
	Code   int
	Reason string
	Err    error
}

func (e *StreamClosedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stream closed (code %d)", e.Code)
	}
	return fmt.Sprintf("stream closed (code %d): %s", e.Code, e.Reason)
}

func (e *StreamClosedError) Unwrap() error { return e.Err }

// Deliberate reports whether the closure was an intentional shutdown rather than a network failure.
func (e *StreamClosedError) Deliberate() bool {
	return e.Code == CloseNoStatus
}
