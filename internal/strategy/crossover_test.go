package strategy

import (
	"errors"
	"testing"

	"signal-trader/internal/indicators"
	"signal-trader/pkg/exchanges/common"
)

func candles(closes ...float64) []common.Candle {
	out := make([]common.Candle, len(closes))
	for i, c := range closes {
		out[i] = common.Candle{Timestamp: int64(i+1) * 60_000, Open: c, High: c, Low: c, Close: c, Confirmed: true}
	}
	return out
}

// flatThen returns n candles at 100 followed by tail.
func flatThen(n int, tail ...float64) []common.Candle {
	closes := make([]float64, 0, n+len(tail))
	for i := 0; i < n; i++ {
		closes = append(closes, 100)
	}
	return candles(append(closes, tail...)...)
}

func TestDetectCross(t *testing.T) {
	tests := []struct {
		name       string
		prev, cur  float64
		want       SignalType
		wantSignal bool
	}{
		{"up from negative", -1, 1, Bullish, true},
		{"up from zero", 0, 0.5, Bullish, true},
		{"down from positive", 1, -1, Bearish, true},
		{"down from zero", 0, -0.5, Bearish, true},
		{"stays positive", 1, 2, "", false},
		{"stays negative", -1, -2, "", false},
		{"touches zero", 1, 0, "", false},
		{"flat zero", 0, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := detectCross(tt.prev, tt.cur)
			if ok != tt.wantSignal || got != tt.want {
				t.Fatalf("detectCross(%v,%v)=(%q,%v), expected (%q,%v)", tt.prev, tt.cur, got, ok, tt.want, tt.wantSignal)
			}
		})
	}
}

func TestFindCrossoversBullishAtLastCandle(t *testing.T) {
	window := flatThen(22, 99, 101)
	last := window[len(window)-1]

	signals, err := FindCrossovers(window, DefaultShortPeriod, DefaultLongPeriod)
	if err != nil {
		t.Fatalf("FindCrossovers: %v", err)
	}
	sig, ok := Latest(signals)
	if !ok {
		t.Fatalf("expected a signal")
	}
	if sig.Type != Bullish {
		t.Fatalf("type=%s, expected bullish", sig.Type)
	}
	if sig.Timestamp != last.Timestamp {
		t.Fatalf("ts=%d, expected last candle %d", sig.Timestamp, last.Timestamp)
	}
	if sig.Price != 101 {
		t.Fatalf("price=%v, expected 101", sig.Price)
	}
	if sig.ShortEMA <= sig.LongEMA {
		t.Fatalf("short %v should be above long %v", sig.ShortEMA, sig.LongEMA)
	}
	if sig.Slope <= 0 {
		t.Fatalf("slope=%v, expected positive", sig.Slope)
	}
	if side := sig.Type.OpenSide(); side != common.PosSideLong {
		t.Fatalf("open side=%s, expected long", side)
	}
}

func TestFindCrossoversSignTypeMatchesSpread(t *testing.T) {
	window := candles(10, 11, 12, 11, 10, 9, 10, 12, 14, 13, 11, 9, 8, 9, 11, 13, 15, 14, 12, 10)
	signals, err := FindCrossovers(window, 3, 5)
	if err != nil {
		t.Fatalf("FindCrossovers: %v", err)
	}
	points, _ := indicators.ComputeEMA(window, 3, 5)
	byTS := make(map[int64]int, len(points))
	for i, p := range points {
		byTS[p.Timestamp] = i
	}
	for _, s := range signals {
		i := byTS[s.Timestamp]
		prev := points[i-1].Short - points[i-1].Long
		cur := points[i].Short - points[i].Long
		if s.Type == Bullish && !(prev <= 0 && cur > 0) {
			t.Fatalf("bullish at %d without upward cross: %v -> %v", s.Timestamp, prev, cur)
		}
		if s.Type == Bearish && !(prev >= 0 && cur < 0) {
			t.Fatalf("bearish at %d without downward cross: %v -> %v", s.Timestamp, prev, cur)
		}
	}
	if len(signals) == 0 {
		t.Fatalf("expected crossovers in an oscillating series")
	}
}

func TestFindCrossoversShortInput(t *testing.T) {
	_, err := FindCrossovers(candles(1, 2, 3), DefaultShortPeriod, DefaultLongPeriod)
	if !errors.Is(err, indicators.ErrInsufficientData) {
		t.Fatalf("err=%v, expected ErrInsufficientData", err)
	}

	signals, err := FindCrossovers(candles(5), 1, 1)
	if err != nil {
		t.Fatalf("FindCrossovers: %v", err)
	}
	if _, ok := Latest(signals); ok {
		t.Fatalf("single point must yield no signal")
	}
}

func TestWithinSlope(t *testing.T) {
	s := Signal{Slope: 0.002}
	tests := []struct {
		name     string
		min, max float64
		want     bool
	}{
		{"unbounded", 0, 0, true},
		{"above min", 0.001, 0, true},
		{"below min", 0.003, 0, false},
		{"under max", 0, 0.005, true},
		{"over max", 0, 0.001, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.WithinSlope(tt.min, tt.max); got != tt.want {
				t.Fatalf("WithinSlope(%v,%v)=%v, expected %v", tt.min, tt.max, got, tt.want)
			}
		})
	}
}
