// Package history summarises the account's closed swap positions: totals over
// the whole history and realised PnL per symbol.
package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-trader/pkg/cache"
	"signal-trader/pkg/exchanges/common"
)

const (
	// FetchLimit is the most history rows requested per report.
	FetchLimit = 100
	// DefaultRecent is how many latest positions a report lists.
	DefaultRecent = 5

	cacheTTL = 30 * time.Second
)

// Source lists closed positions, newest first or in any order.
type Source interface {
	PositionsHistory(ctx context.Context, limit int) ([]common.ClosedPosition, error)
}

// SymbolPnL is the realised result of one symbol.
type SymbolPnL struct {
	Symbol      string  `json:"symbol"`
	Positions   int     `json:"positions"`
	RealizedPnL float64 `json:"realized_pnl"`
	Fees        float64 `json:"fees"`
	Profitable  bool    `json:"profitable"`
}

// Report aggregates position history.
type Report struct {
	Positions   int                     `json:"positions"`
	Volume      float64                 `json:"volume"`
	Fees        float64                 `json:"fees"`
	RealizedPnL float64                 `json:"realized_pnl"`
	Symbols     []SymbolPnL             `json:"symbols"`
	Recent      []common.ClosedPosition `json:"recent"`
}

// Service builds reports from a Source, caching the raw history briefly.
type Service struct {
	src   Source
	cache *cache.Sharded[[]common.ClosedPosition]
	log   zerolog.Logger
}

func NewService(src Source, logger zerolog.Logger) *Service {
	return &Service{
		src:   src,
		cache: cache.New[[]common.ClosedPosition](cacheTTL),
		log:   logger.With().Str("component", "history").Logger(),
	}
}

// Report summarises the latest history and lists the recent newest positions.
// recent <= 0 uses DefaultRecent.
func (s *Service) Report(ctx context.Context, recent int) (Report, error) {
	rows, err := s.cache.GetOrLoad("SWAP", func() ([]common.ClosedPosition, error) {
		return s.src.PositionsHistory(ctx, FetchLimit)
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("positions history unavailable")
		return Report{}, fmt.Errorf("positions history: %w", err)
	}
	if recent <= 0 {
		recent = DefaultRecent
	}
	return Summarize(rows, recent), nil
}

// Summarize totals positions and groups realised PnL by symbol, best first.
// Sums are exact decimals so many small fees do not drift.
func Summarize(rows []common.ClosedPosition, recent int) Report {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b common.ClosedPosition) int {
		return cmp.Compare(b.UpdatedAt, a.UpdatedAt)
	})

	type acc struct {
		n         int
		pnl, fees decimal.Decimal
	}
	var volume, fees, pnl decimal.Decimal
	bySymbol := make(map[string]*acc)
	for _, p := range sorted {
		rp, fee := decimal.NewFromFloat(p.RealizedPnL), decimal.NewFromFloat(p.Fee)
		volume = volume.Add(decimal.NewFromFloat(p.OpenMaxPos))
		fees = fees.Add(fee)
		pnl = pnl.Add(rp)

		sym := Symbol(p.InstID)
		a, ok := bySymbol[sym]
		if !ok {
			a = &acc{}
			bySymbol[sym] = a
		}
		a.n++
		a.pnl = a.pnl.Add(rp)
		a.fees = a.fees.Add(fee)
	}

	symbols := make([]SymbolPnL, 0, len(bySymbol))
	for sym, a := range bySymbol {
		symbols = append(symbols, SymbolPnL{
			Symbol:      sym,
			Positions:   a.n,
			RealizedPnL: a.pnl.InexactFloat64(),
			Fees:        a.fees.InexactFloat64(),
			Profitable:  !a.pnl.IsNegative(),
		})
	}
	slices.SortFunc(symbols, func(a, b SymbolPnL) int {
		if c := cmp.Compare(b.RealizedPnL, a.RealizedPnL); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})

	return Report{
		Positions:   len(sorted),
		Volume:      volume.InexactFloat64(),
		Fees:        fees.InexactFloat64(),
		RealizedPnL: pnl.InexactFloat64(),
		Symbols:     symbols,
		Recent:      sorted[:min(recent, len(sorted))],
	}
}

// Symbol maps BTC-USDT-SWAP to BTC/USDT.
func Symbol(instID string) string {
	parts := strings.Split(instID, "-")
	if len(parts) < 2 {
		return instID
	}
	return parts[0] + "/" + parts[1]
}
