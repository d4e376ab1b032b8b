package strategy

import (
	"signal-trader/internal/indicators"
	"signal-trader/pkg/exchanges/common"
)

// Default EMA periods used by campaigns.
const (
	DefaultShortPeriod = 9
	DefaultLongPeriod  = 21
)

// FindCrossovers walks the EMA series and returns every point where the
// short EMA changes side relative to the long EMA. It fails with
// indicators.ErrInsufficientData when the window is shorter than longPeriod.
func FindCrossovers(candles []common.Candle, shortPeriod, longPeriod int) ([]Signal, error) {
	points, err := indicators.ComputeEMA(candles, shortPeriod, longPeriod)
	if err != nil {
		return nil, err
	}

	var out []Signal
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		typ, ok := detectCross(prev.Short-prev.Long, cur.Short-cur.Long)
		if !ok {
			continue
		}
		out = append(out, Signal{
			Timestamp: cur.Timestamp,
			Type:      typ,
			Price:     candles[i].Close,
			Slope:     cur.Slope,
			ShortEMA:  cur.Short,
			LongEMA:   cur.Long,
		})
	}
	return out, nil
}

// detectCross classifies the spread change between two consecutive points.
func detectCross(prevSpread, spread float64) (SignalType, bool) {
	switch {
	case prevSpread <= 0 && spread > 0:
		return Bullish, true
	case prevSpread >= 0 && spread < 0:
		return Bearish, true
	}
	return "", false
}

// Latest returns the newest signal. ok is false for an empty sequence, which
// callers treat as "no signal".
func Latest(signals []Signal) (Signal, bool) {
	if len(signals) == 0 {
		return Signal{}, false
	}
	return signals[len(signals)-1], true
}
