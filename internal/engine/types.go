package engine

import "time"

// Params are the engine-wide evaluation settings.
type Params struct {
	// ReferenceInst carries the candle stream that paces evaluation.
	ReferenceInst string
	CandleLimit   int
	ShortPeriod   int
	LongPeriod    int
}

// DefaultParams returns the production settings.
func DefaultParams() Params {
	return Params{
		ReferenceInst: "BTC-USDT-SWAP",
		CandleLimit:   300,
		ShortPeriod:   9,
		LongPeriod:    21,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.ReferenceInst == "" {
		p.ReferenceInst = def.ReferenceInst
	}
	if p.CandleLimit <= 0 {
		p.CandleLimit = def.CandleLimit
	}
	if p.ShortPeriod <= 0 {
		p.ShortPeriod = def.ShortPeriod
	}
	if p.LongPeriod <= 0 {
		p.LongPeriod = def.LongPeriod
	}
	return p
}

// SystemStatus represents the runtime status.
type SystemStatus struct {
	Venue      string    `json:"venue"`
	Demo       bool      `json:"demo"`
	Campaigns  int       `json:"campaigns"`
	Version    string    `json:"version"`
	StartedAt  time.Time `json:"started_at"`
	ServerTime time.Time `json:"server_time"`
}
