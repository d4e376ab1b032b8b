package order

import (
	"math"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

const (
	MinCallbackRatio = 0.001
	MaxCallbackRatio = 1.0
)

// CallbackRatio derives a trailing callback ratio from ATR fluctuation.
func CallbackRatio(fluct, multiple float64) float64 {
	r := fluct * multiple
	switch {
	case math.IsNaN(r) || r <= MinCallbackRatio:
		return MinCallbackRatio
	case r > MaxCallbackRatio:
		return MaxCallbackRatio
	}
	return r
}

// FormatRatio renders a callback ratio for the exchange.
func FormatRatio(r float64) string {
	d := decimal.NewFromFloat(r).Round(4)
	if d.LessThan(decimal.NewFromFloat(MinCallbackRatio)) {
		d = decimal.NewFromFloat(MinCallbackRatio)
	}
	return d.String()
}

// CoinAmount converts a USD amount to coin units at price.
func CoinAmount(sizeUSD, price float64) (string, bool) {
	if sizeUSD <= 0 || price <= 0 {
		return "", false
	}
	d := decimal.NewFromFloat(sizeUSD).DivRound(decimal.NewFromFloat(price), 8)
	if !d.IsPositive() {
		return "", false
	}
	return d.String(), true
}

// PositiveSize reports whether sz parses to a positive number.
func PositiveSize(sz string) bool {
	d, err := decimal.NewFromString(sz)
	return err == nil && d.IsPositive()
}

// CalculatePnL returns realised PnL of a round trip on qty coins, net of fee.
func CalculatePnL(side common.PosSide, qty, entry, exit, fee float64) float64 {
	q := math.Abs(qty)
	if q == 0 {
		return 0
	}
	return (exit-entry)*q*side.Sign() - fee
}

// LossEstimate is the projected outcome if a trailing stop triggers right
// after entry.
type LossEstimate struct {
	StopPrice float64 `json:"stop_price"`
	PnL       float64 `json:"pnl"`
}

// EstimateTrailingLoss projects the stop price at ratio away from entry and
// the resulting PnL for sizeUSD.
func EstimateTrailingLoss(side common.PosSide, entry, ratio, sizeUSD float64) LossEstimate {
	if entry <= 0 {
		return LossEstimate{}
	}
	stop := entry - side.Sign()*entry*ratio
	return LossEstimate{
		StopPrice: stop,
		PnL:       CalculatePnL(side, sizeUSD/entry, entry, stop, 0),
	}
}
