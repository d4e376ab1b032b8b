package indicators

import (
	"errors"
	"fmt"

	"signal-trader/pkg/exchanges/common"
)

var (
	// ErrInsufficientData means the window is shorter than the indicator period.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidPeriod means a period below one was requested.
	ErrInvalidPeriod = errors.New("invalid period")
)

// EMAPoint holds the short and long EMA at one candle. Slope is the change of
// the short-long spread since the previous candle, relative to price.
type EMAPoint struct {
	Timestamp int64
	Short     float64
	Long      float64
	Slope     float64
}

// EMA returns one value per input. The first period outputs hold the SMA seed,
// later ones are smoothed with alpha = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	seed := SMA(values[:period], period)
	for i := 0; i < period; i++ {
		out[i] = seed
	}
	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// ComputeEMA derives short/long EMA points for every candle of the window.
func ComputeEMA(candles []common.Candle, shortPeriod, longPeriod int) ([]EMAPoint, error) {
	if shortPeriod < 1 || longPeriod < 1 {
		return nil, fmt.Errorf("%w: short=%d long=%d", ErrInvalidPeriod, shortPeriod, longPeriod)
	}
	need := max(shortPeriod, longPeriod)
	if len(candles) < need {
		return nil, fmt.Errorf("%w: need %d candles, have %d", ErrInsufficientData, need, len(candles))
	}

	closes := Closes(candles)
	short := EMA(closes, shortPeriod)
	long := EMA(closes, longPeriod)

	points := make([]EMAPoint, len(candles))
	for i, c := range candles {
		p := EMAPoint{Timestamp: c.Timestamp, Short: short[i], Long: long[i]}
		if i > 0 && c.Close != 0 {
			p.Slope = ((short[i] - long[i]) - (short[i-1] - long[i-1])) / c.Close
		}
		points[i] = p
	}
	return points, nil
}
