package indicators

import (
	"fmt"
	"math"

	"signal-trader/pkg/exchanges/common"
)

// ATRPoint is the average true range at one candle. FluctuationPercent is
// ATR/close expressed as a ratio.
type ATRPoint struct {
	Timestamp          int64
	ATR                float64
	FluctuationPercent float64
}

// TrueRange of c given the previous close. The first candle of a window has no
// previous close and uses high-low.
func TrueRange(c common.Candle, prevClose float64, first bool) float64 {
	tr := c.High - c.Low
	if first {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ComputeATR applies Wilder smoothing. The first period points hold the
// running simple average of true range; afterwards
// atr[i] = (atr[i-1]*(period-1) + tr[i]) / period.
func ComputeATR(candles []common.Candle, period int) ([]ATRPoint, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if len(candles) < period {
		return nil, fmt.Errorf("%w: need %d candles, have %d", ErrInsufficientData, period, len(candles))
	}

	out := make([]ATRPoint, len(candles))
	var sum, atr float64
	for i, c := range candles {
		prev := 0.0
		if i > 0 {
			prev = candles[i-1].Close
		}
		tr := TrueRange(c, prev, i == 0)
		if i < period {
			sum += tr
			atr = sum / float64(i+1)
		} else {
			atr = (atr*float64(period-1) + tr) / float64(period)
		}
		p := ATRPoint{Timestamp: c.Timestamp, ATR: atr}
		if c.Close != 0 {
			p.FluctuationPercent = atr / c.Close
		}
		out[i] = p
	}
	return out, nil
}

// LastATR is a convenience for callers that only need the newest point.
func LastATR(candles []common.Candle, period int) (ATRPoint, error) {
	points, err := ComputeATR(candles, period)
	if err != nil {
		return ATRPoint{}, err
	}
	return points[len(points)-1], nil
}
