package campaign

import "signal-trader/pkg/exchanges/common"

// Window is the candle history of one instrument split into the confirmed
// candles and the working candle that live ticks keep updating. Ticks never
// touch the confirmed history; a new confirmed snapshot replaces the window.
type Window struct {
	history []common.Candle
	working common.Candle
}

// NewWindow builds a window from an ascending candle snapshot. The newest
// candle becomes the working candle.
func NewWindow(candles []common.Candle) *Window {
	if len(candles) == 0 {
		return nil
	}
	n := len(candles)
	w := &Window{
		history: make([]common.Candle, n-1),
		working: candles[n-1],
	}
	copy(w.history, candles[:n-1])
	return w
}

// Apply folds a tick price into the working candle. The timestamp is never changed.
func (w *Window) Apply(price float64) {
	if price > w.working.High {
		w.working.High = price
	}
	if price < w.working.Low {
		w.working.Low = price
	}
	w.working.Close = price
}

// Working returns the current working candle.
func (w *Window) Working() common.Candle {
	return w.working
}

// Snapshot returns a fresh copy of history followed by the working candle.
func (w *Window) Snapshot() []common.Candle {
	out := make([]common.Candle, 0, len(w.history)+1)
	out = append(out, w.history...)
	return append(out, w.working)
}
