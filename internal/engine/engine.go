package engine

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/internal/campaign"
	"signal-trader/internal/events"
	"signal-trader/internal/market"
	"signal-trader/internal/order"
	"signal-trader/internal/trailing"
	"signal-trader/pkg/exchanges/common"
)

// Options wires an Engine.
type Options struct {
	Registry *campaign.Registry
	Market   common.MarketAPI
	Gateway  *order.Gateway
	Streams  *market.Manager
	Bus      *events.Bus
	Logger   zerolog.Logger
	Params   Params

	Venue   string
	Demo    bool
	Version string
	// Clock reports exchange-adjusted time for status; defaults to time.Now.
	Clock func() time.Time
}

// Engine implements Service.
type Engine struct {
	reg     *campaign.Registry
	market  common.MarketAPI
	gateway *order.Gateway
	streams *market.Manager
	trail   *trailing.Engine
	bus     *events.Bus
	log     zerolog.Logger
	params  Params

	meta  SystemStatus
	clock func() time.Time

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

var _ Service = (*Engine)(nil)

// New creates an engine. Campaign goroutines derive from an internal context
// cancelled by Shutdown.
func New(opts Options) *Engine {
	base, cancel := context.WithCancel(context.Background())
	e := &Engine{
		reg:        opts.Registry,
		market:     opts.Market,
		gateway:    opts.Gateway,
		streams:    opts.Streams,
		bus:        opts.Bus,
		log:        opts.Logger.With().Str("component", "engine").Logger(),
		params:     opts.Params.withDefaults(),
		clock:      opts.Clock,
		base:       base,
		baseCancel: cancel,
		meta: SystemStatus{
			Venue:     opts.Venue,
			Demo:      opts.Demo,
			Version:   opts.Version,
			StartedAt: time.Now().UTC(),
		},
	}
	if e.reg == nil {
		e.reg = campaign.NewRegistry()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	e.trail = trailing.NewEngine(e.reg, e.gateway, e, opts.Logger)
	return e
}

// Registry exposes the shared campaign registry.
func (e *Engine) Registry() *campaign.Registry { return e.reg }

func (e *Engine) Start(ctx context.Context, id string, cfg campaign.Config) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cctx, cancel := context.WithCancel(e.base)
	c := campaign.New(id, cfg, cancel)
	if err := e.reg.Add(c); err != nil {
		cancel()
		return err
	}

	symbols, err := e.market.TradeableInstruments(ctx, cfg.TokenMode)
	if err != nil {
		e.reg.RemoveInstance(c)
		return fmt.Errorf("resolve instruments for %s: %w", id, err)
	}
	if len(symbols) == 0 {
		e.reg.RemoveInstance(c)
		return fmt.Errorf("%w: mode %q", ErrNoInstruments, cfg.TokenMode)
	}
	e.reg.SetSymbols(id, symbols)

	e.log.Info().
		Str("campaign", id).
		Str("bar", cfg.Bar).
		Int("symbols", len(symbols)).
		Str("variance", cfg.Trailing.String()).
		Msg("campaign started")
	e.publish(events.EventCampaignStarted, events.CampaignPayload{CampaignID: id, Symbols: len(symbols)})

	e.wg.Add(1)
	go e.runCandles(cctx, c)
	return nil
}

func (e *Engine) Stop(_ context.Context, id string) error {
	if _, ok := e.reg.Remove(id); !ok {
		return ErrCampaignNotFound
	}
	e.log.Info().Str("campaign", id).Msg("campaign stopped")
	e.publish(events.EventCampaignStopped, events.CampaignPayload{CampaignID: id, Reason: "stopped"})
	return nil
}

func (e *Engine) StopAll(ctx context.Context) int {
	n := 0
	for _, id := range e.reg.IDs() {
		if e.Stop(ctx, id) == nil {
			n++
		}
	}
	return n
}

func (e *Engine) List(context.Context) iter.Seq[campaign.Summary] {
	return e.reg.Summaries()
}

func (e *Engine) Get(_ context.Context, id string) (campaign.Summary, error) {
	s, ok := e.reg.Summary(id)
	if !ok {
		return campaign.Summary{}, ErrCampaignNotFound
	}
	return s, nil
}

func (e *Engine) GetSystemStatus(context.Context) *SystemStatus {
	st := e.meta
	st.Campaigns = e.reg.Len()
	st.ServerTime = e.clock().UTC()
	return &st
}

// Shutdown stops every campaign and waits for their goroutines.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.StopAll(ctx)
	e.baseCancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// alive reports whether c is still the registered instance of its id.
func (e *Engine) alive(c *campaign.Campaign) bool {
	cur, ok := e.reg.Get(c.ID)
	return ok && cur == c
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}
