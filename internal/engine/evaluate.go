package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"signal-trader/internal/campaign"
	"signal-trader/internal/events"
	"signal-trader/internal/indicators"
	"signal-trader/internal/order"
	"signal-trader/internal/strategy"
	"signal-trader/internal/trailing"
	"signal-trader/pkg/exchanges/common"
)

// evaluate runs the detector over every symbol of c for the candle confirmed
// at ts. Symbol failures are reported and never abort siblings.
func (e *Engine) evaluate(ctx context.Context, c *campaign.Campaign, ts int64) {
	symbols := e.reg.Symbols(c.ID)
	if len(symbols) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(len(symbols))
	var opened atomic.Bool
	for _, inst := range symbols {
		g.Go(func() error {
			ok, err := e.evaluateSymbol(ctx, c, inst, ts)
			if ok {
				opened.Store(true)
			}
			if err != nil && ctx.Err() == nil && e.alive(c) {
				e.log.Warn().Err(err).Str("campaign", c.ID).Str("inst", inst).Msg("evaluation failed")
				e.publish(events.EventEvaluationError, events.ErrorPayload{
					CampaignID: c.ID, InstID: inst, Stage: "evaluate", Error: err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if !opened.Load() || ctx.Err() != nil || !e.alive(c) {
		return
	}
	if err := e.refreshPositions(ctx, c); err != nil {
		return
	}
	e.ensureTickStream(ctx, c)
}

// evaluateSymbol re-fetches candles up to ts and acts on a crossover at ts.
// It reports whether a position was opened.
func (e *Engine) evaluateSymbol(ctx context.Context, c *campaign.Campaign, inst string, ts int64) (bool, error) {
	candles, err := e.market.Candles(ctx, inst, c.Config.Bar, e.params.CandleLimit)
	if err != nil {
		return false, fmt.Errorf("fetch candles: %w", err)
	}
	candles = upTo(candles, ts)
	if len(candles) == 0 {
		return false, nil
	}
	e.reg.SetWindow(c.ID, inst, candles)

	signals, err := strategy.FindCrossovers(candles, e.params.ShortPeriod, e.params.LongPeriod)
	if errors.Is(err, indicators.ErrInsufficientData) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sig, ok := strategy.Latest(signals)
	if !ok || sig.Timestamp != ts {
		return false, nil
	}
	if !e.reg.RecordSignal(c.ID, inst, ts) {
		return false, nil
	}

	e.log.Info().
		Str("campaign", c.ID).
		Str("inst", inst).
		Str("signal", string(sig.Type)).
		Float64("price", sig.Price).
		Float64("slope", sig.Slope).
		Msg("crossover detected")
	e.publish(events.EventSignalDetected, events.SignalPayload{
		CampaignID: c.ID,
		InstID:     inst,
		Type:       string(sig.Type),
		Timestamp:  sig.Timestamp,
		Price:      sig.Price,
		Slope:      sig.Slope,
		ShortEMA:   sig.ShortEMA,
		LongEMA:    sig.LongEMA,
	})
	return e.act(ctx, c, inst, sig, candles)
}

// act closes the opposite side and opens the signalled side. The close is
// always sent; an exchange rejection of it (usually nothing to close) is
// reported and the open goes ahead. Only a transport failure aborts.
func (e *Engine) act(ctx context.Context, c *campaign.Campaign, inst string, sig strategy.Signal, candles []common.Candle) (bool, error) {
	if !e.reg.BeginAction(c.ID, inst) {
		e.log.Debug().Str("campaign", c.ID).Str("inst", inst).Msg("action already in flight")
		return false, nil
	}
	defer e.reg.EndAction(c.ID, inst)

	cfg := c.Config
	side := sig.Type.OpenSide()
	opposite := side.Opposite()
	legs := e.livePositions(ctx, c, inst)

	mgn := cfg.MarginMode
	if p, ok := legs[opposite]; ok && p.MarginMode.Valid() {
		mgn = p.MarginMode
	}
	res := e.gateway.ClosePosition(ctx, order.CloseRequest{
		CampaignID:     c.ID,
		InstID:         inst,
		PosSide:        opposite,
		MarginMode:     mgn,
		CancelTrailing: cfg.Trailing.Enabled(),
		SignalTS:       sig.Timestamp,
	})
	if !e.alive(c) {
		return false, nil
	}
	if res.Cancel != nil && res.Cancel.Attempts > 0 {
		e.publish(events.EventOrderResult, orderPayload(c.ID, *res.Cancel))
	}
	closed := orderPayload(c.ID, res)
	if !res.OK() && !errors.Is(res.Err, order.ErrTransport) {
		closed.Tolerated = true
		if _, held := legs[opposite]; !held {
			closed.Reason = "no " + string(opposite) + " position"
		}
	}
	e.publish(events.EventOrderResult, closed)
	if !res.OK() && !closed.Tolerated {
		return false, fmt.Errorf("close %s: %w", opposite, res.Err)
	}
	if p, ok := e.reg.Position(c.ID, inst); ok && p.PosSide == opposite {
		e.reg.ClearPosition(c.ID, inst)
	}

	if _, open := legs[side]; open {
		e.publishSkipped(c.ID, inst, side, "position already open")
		return false, nil
	}

	if !sig.WithinSlope(cfg.SlopeMin, cfg.SlopeMax) {
		e.publishSkipped(c.ID, inst, side, fmt.Sprintf("slope %.6g outside [%g, %g]", sig.Slope, cfg.SlopeMin, cfg.SlopeMax))
		return false, nil
	}

	opened := e.gateway.OpenPosition(ctx, order.OpenRequest{
		CampaignID: c.ID,
		InstID:     inst,
		PosSide:    side,
		MarginMode: cfg.MarginMode,
		Leverage:   cfg.Leverage,
		SizeUSD:    cfg.SizeUSD,
		SignalTS:   sig.Timestamp,
	})
	if !e.alive(c) {
		return false, nil
	}
	payload := orderPayload(c.ID, opened)
	ratio, hasRatio := openRatio(cfg.Trailing, candles)
	if hasRatio {
		est := order.EstimateTrailingLoss(side, sig.Price, ratio, cfg.SizeUSD)
		payload.EstimatedStop, payload.EstimatedPnL = est.StopPrice, est.PnL
	}
	e.publish(events.EventOrderResult, payload)
	if !opened.OK() {
		return false, fmt.Errorf("open %s: %w", side, opened.Err)
	}

	if cfg.ArmOnOpen && hasRatio {
		e.armOnOpen(ctx, c, inst, side, ratio, sig.Price)
	}
	return true, nil
}

// livePositions returns the exchange's legs on inst by side and syncs the
// cache with them. When the exchange cannot be reached the cached position
// stands in.
func (e *Engine) livePositions(ctx context.Context, c *campaign.Campaign, inst string) map[common.PosSide]common.Position {
	legs := make(map[common.PosSide]common.Position, 2)
	live, err := e.market.OpenPositions(ctx)
	if err != nil {
		e.log.Warn().Err(err).Str("campaign", c.ID).Str("inst", inst).Msg("live positions unavailable; using cache")
		if p, ok := e.reg.Position(c.ID, inst); ok {
			legs[p.PosSide] = p
		}
		return legs
	}
	for _, p := range live {
		if p.InstID == inst {
			legs[p.PosSide] = p
		}
	}
	e.reg.SyncPosition(c.ID, inst, live)
	return legs
}

// armOnOpen places the trailing stop right after entry and sets the latch so
// tick activation never fires for this position.
func (e *Engine) armOnOpen(ctx context.Context, c *campaign.Campaign, inst string, side common.PosSide, ratio, markPx float64) {
	if err := e.refreshPositions(ctx, c); err != nil {
		return
	}
	pos, ok := e.reg.Position(c.ID, inst)
	if !ok || pos.PosSide != side {
		e.log.Warn().Str("campaign", c.ID).Str("inst", inst).Msg("opened position not reported; trailing stop not placed")
		return
	}
	if !e.reg.ArmTrailing(c.ID, inst) {
		return
	}
	res := e.gateway.OpenTrailingStop(ctx, order.TrailingRequest{
		CampaignID:    c.ID,
		InstID:        inst,
		PosSide:       side,
		MarginMode:    pos.MarginMode,
		SizeUSD:       pos.NotionalUSD,
		CallbackRatio: ratio,
	})
	if !e.alive(c) {
		return
	}
	e.TrailingActivated(ctx, trailing.Activation{
		CampaignID:    c.ID,
		InstID:        inst,
		PosSide:       side,
		MarkPx:        markPx,
		EntryPx:       pos.AvgPx,
		CallbackRatio: ratio,
		Result:        res,
	})
}

// TrailingActivated publishes trailing stop outcomes.
func (e *Engine) TrailingActivated(_ context.Context, a trailing.Activation) {
	p := events.TrailingPayload{
		CampaignID:    a.CampaignID,
		InstID:        a.InstID,
		PosSide:       string(a.PosSide),
		MarkPx:        a.MarkPx,
		EntryPx:       a.EntryPx,
		Threshold:     a.Threshold,
		ATR:           a.ATR,
		CallbackRatio: a.CallbackRatio,
		OK:            a.Result.OK(),
	}
	if a.Result.Err != nil {
		p.Error = a.Result.Err.Error()
	}
	e.publish(events.EventTrailingArmed, p)
}

func (e *Engine) publishSkipped(campaignID, inst string, side common.PosSide, reason string) {
	e.log.Info().Str("campaign", campaignID).Str("inst", inst).Str("reason", reason).Msg("open skipped")
	e.publish(events.EventOrderResult, events.OrderPayload{
		CampaignID: campaignID,
		InstID:     inst,
		Action:     string(order.ActionOpen),
		PosSide:    string(side),
		Skipped:    true,
		Reason:     reason,
	})
}

func orderPayload(campaignID string, r order.Result) events.OrderPayload {
	p := events.OrderPayload{
		CampaignID:    campaignID,
		InstID:        r.InstID,
		Action:        string(r.Action),
		PosSide:       string(r.PosSide),
		ClientOrderID: r.ClientOrderID,
		Attempts:      r.Attempts,
		Code:          r.Code,
		Msg:           r.Msg,
		OK:            r.OK(),
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	return p
}

// openRatio is the callback ratio for a position opened on candles: the ATR
// fluctuation scaled by the policy multiple for auto, else the fixed ratio.
func openRatio(p campaign.TrailingPolicy, candles []common.Candle) (float64, bool) {
	if !p.Enabled() {
		return 0, false
	}
	if !p.Auto {
		return order.CallbackRatio(p.Ratio, 1), true
	}
	atr, err := indicators.LastATR(candles, trailing.ATRPeriod)
	if err != nil {
		return 0, false
	}
	return order.CallbackRatio(atr.FluctuationPercent, p.EffectiveMultiple()), true
}

// upTo keeps the ascending prefix of candles at or before ts.
func upTo(candles []common.Candle, ts int64) []common.Candle {
	out := candles[:0:0]
	for _, cd := range candles {
		if cd.Timestamp > ts {
			break
		}
		out = append(out, cd)
	}
	return out
}
