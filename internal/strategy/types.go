package strategy

import "signal-trader/pkg/exchanges/common"

// SignalType is the direction of an EMA crossover.
type SignalType string

const (
	Bullish SignalType = "bullish"
	Bearish SignalType = "bearish"
)

// OpenSide is the position side a signal of this type opens.
func (t SignalType) OpenSide() common.PosSide {
	if t == Bullish {
		return common.PosSideLong
	}
	return common.PosSideShort
}

// Signal is one crossover point.
type Signal struct {
	Timestamp int64      `json:"ts"`
	Type      SignalType `json:"type"`
	Price     float64    `json:"price"`
	Slope     float64    `json:"slope"`
	ShortEMA  float64    `json:"short_ema"`
	LongEMA   float64    `json:"long_ema"`
}

// WithinSlope reports whether the slope passes the configured bounds; a zero bound is unset.
func (s Signal) WithinSlope(minSlope, maxSlope float64) bool {
	return (maxSlope == 0 || s.Slope <= maxSlope) && (minSlope == 0 || s.Slope >= minSlope)
}
