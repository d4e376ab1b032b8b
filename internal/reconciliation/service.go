package reconciliation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/internal/campaign"
	"signal-trader/internal/events"
	"signal-trader/pkg/exchanges/common"
)

// PositionSource lists the account's open positions.
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]common.Position, error)
}

// Service periodically compares cached campaign positions with the exchange.
type Service struct {
	exchange PositionSource
	reg      *campaign.Registry
	bus      *events.Bus
	interval time.Duration
	autoSync bool
	log      zerolog.Logger
	mu       sync.Mutex
}

// Report contains reconciliation results.
type Report struct {
	Timestamp     time.Time
	Campaigns     int
	PositionDiffs []PositionDiff
	HasDiffs      bool
	SyncedCount   int
}

// PositionDiff is one instrument whose cached view differs from the exchange.
type PositionDiff struct {
	CampaignID       string
	InstID           string
	LocalSide        common.PosSide
	ExchangeSide     common.PosSide
	LocalContracts   float64
	ExchangeContract float64
	Synced           bool
}

// NewService creates a reconciliation service. Only campaigns that run a
// tick stream are reconciled; others refresh on every trade action.
func NewService(exchange PositionSource, reg *campaign.Registry, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		exchange: exchange,
		reg:      reg,
		bus:      bus,
		interval: interval,
		autoSync: true,
		log:      logger.With().Str("component", "reconciliation").Logger(),
	}
}

// SetAutoSync enables or disables replacing cached positions on a diff.
func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
}

// Start begins periodic reconciliation. A non-positive interval disables it.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info().Msg("reconciliation disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					s.log.Warn().Err(err).Msg("reconciliation failed")
					continue
				}
				s.handleReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info().Dur("interval", s.interval).Msg("reconciliation started")
}

// Reconcile fetches positions once and checks every tick-streaming campaign.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now()}
	var ids []string
	for _, id := range s.reg.IDs() {
		if s.reg.TickStreamActive(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return report, nil
	}

	positions, err := s.exchange.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	byInst := make(map[string]common.Position, len(positions))
	for _, p := range positions {
		byInst[p.InstID] = p
	}

	for _, id := range ids {
		report.Campaigns++
		var diffs []PositionDiff
		for _, inst := range s.reg.Symbols(id) {
			local, hasLocal := s.reg.Position(id, inst)
			remote, hasRemote := byInst[inst]
			if !hasLocal && !hasRemote {
				continue
			}
			if hasLocal && hasRemote && local.PosSide == remote.PosSide && math.Abs(local.Contracts-remote.Contracts) < 1e-9 {
				continue
			}
			diffs = append(diffs, PositionDiff{
				CampaignID:       id,
				InstID:           inst,
				LocalSide:        local.PosSide,
				ExchangeSide:     remote.PosSide,
				LocalContracts:   local.Contracts,
				ExchangeContract: remote.Contracts,
			})
		}
		if len(diffs) == 0 {
			continue
		}
		if s.autoSync {
			s.reg.ReplacePositions(id, positions)
			for i := range diffs {
				diffs[i].Synced = true
			}
			report.SyncedCount += len(diffs)
			if s.bus != nil {
				sum, _ := s.reg.Summary(id)
				s.bus.Publish(events.EventPositionsRefreshed, events.PositionsPayload{CampaignID: id, Count: len(sum.Positions)})
			}
		}
		report.PositionDiffs = append(report.PositionDiffs, diffs...)
	}
	report.HasDiffs = len(report.PositionDiffs) > 0
	return report, nil
}

func (s *Service) handleReport(report *Report) {
	if !report.HasDiffs {
		s.log.Debug().Int("campaigns", report.Campaigns).Msg("positions match")
		return
	}
	for _, d := range report.PositionDiffs {
		s.log.Warn().
			Str("campaign", d.CampaignID).
			Str("inst", d.InstID).
			Str("local_side", string(d.LocalSide)).
			Str("exchange_side", string(d.ExchangeSide)).
			Float64("local_contracts", d.LocalContracts).
			Float64("exchange_contracts", d.ExchangeContract).
			Bool("synced", d.Synced).
			Msg("position drift")
	}
}
