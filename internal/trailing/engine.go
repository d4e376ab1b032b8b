// Package trailing watches mark-price ticks and arms a trailing stop once
// price has moved a volatility-scaled distance in favour of the position.
package trailing

import (
	"context"

	"github.com/rs/zerolog"

	"signal-trader/internal/campaign"
	"signal-trader/internal/indicators"
	"signal-trader/internal/order"
	"signal-trader/pkg/exchanges/common"
)

// ATRPeriod is the ATR lookback used for the activation threshold.
const ATRPeriod = 14

// Placer submits trailing stop orders.
type Placer interface {
	OpenTrailingStop(ctx context.Context, req order.TrailingRequest) order.Result
}

// Activation describes one armed trailing stop.
type Activation struct {
	CampaignID    string
	InstID        string
	PosSide       common.PosSide
	MarkPx        float64
	EntryPx       float64
	Threshold     float64
	ATR           float64
	CallbackRatio float64
	Result        order.Result
}

// Notifier receives activation outcomes.
type Notifier interface {
	TrailingActivated(ctx context.Context, a Activation)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Activation)

func (f NotifierFunc) TrailingActivated(ctx context.Context, a Activation) { f(ctx, a) }

// Engine is shared by every campaign.
type Engine struct {
	reg    *campaign.Registry
	placer Placer
	notify Notifier
	log    zerolog.Logger
}

// NewEngine builds an engine. notify may be nil.
func NewEngine(reg *campaign.Registry, placer Placer, notify Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		reg:    reg,
		placer: placer,
		notify: notify,
		log:    logger.With().Str("component", "trailing").Logger(),
	}
}

// OnTick folds markPx into the working candle and arms the trailing stop
// when the threshold is crossed. It returns true when this call armed it.
func (e *Engine) OnTick(ctx context.Context, campaignID, instID string, markPx float64) bool {
	c, ok := e.reg.Get(campaignID)
	if !ok || !c.Config.Trailing.Enabled() {
		return false
	}
	pos, ok := e.reg.Position(campaignID, instID)
	if !ok {
		return false
	}
	candles, ok := e.reg.ApplyTick(campaignID, instID, markPx)
	if !ok || e.reg.TrailingArmed(campaignID, instID) {
		return false
	}

	atr, err := indicators.LastATR(candles, ATRPeriod)
	if err != nil {
		e.log.Debug().Err(err).Str("inst", instID).Msg("atr unavailable")
		return false
	}
	policy := c.Config.Trailing
	multiple := policy.EffectiveMultiple()
	threshold := Threshold(pos, atr.ATR, multiple)
	if !Crossed(pos.PosSide, markPx, threshold) {
		return false
	}
	if !e.reg.ArmTrailing(campaignID, instID) {
		return false
	}

	ratio := policy.Ratio
	if policy.Auto {
		ratio = atr.FluctuationPercent
	}
	ratio = order.CallbackRatio(ratio, multipleFor(policy))

	log := e.log.With().Str("campaign", campaignID).Str("inst", instID).Logger()
	log.Info().
		Float64("mark_px", markPx).
		Float64("threshold", threshold).
		Float64("callback_ratio", ratio).
		Msg("trailing stop armed")

	res := e.placer.OpenTrailingStop(ctx, order.TrailingRequest{
		CampaignID:    campaignID,
		InstID:        instID,
		PosSide:       pos.PosSide,
		MarginMode:    pos.MarginMode,
		SizeUSD:       pos.NotionalUSD,
		CallbackRatio: ratio,
	})
	if res.Err != nil {
		log.Error().Err(res.Err).Msg("trailing stop placement failed")
	}
	if e.notify != nil && e.reg.Has(campaignID) {
		e.notify.TrailingActivated(ctx, Activation{
			CampaignID:    campaignID,
			InstID:        instID,
			PosSide:       pos.PosSide,
			MarkPx:        markPx,
			EntryPx:       pos.AvgPx,
			Threshold:     threshold,
			ATR:           atr.ATR,
			CallbackRatio: ratio,
			Result:        res,
		})
	}
	return true
}

// Threshold is the activation price: entry moved by multiple ATRs in the
// position's favour.
func Threshold(pos common.Position, atr, multiple float64) float64 {
	return pos.AvgPx + pos.PosSide.Sign()*atr*multiple
}

// Crossed reports whether price is strictly beyond threshold for side.
func Crossed(side common.PosSide, price, threshold float64) bool {
	if side == common.PosSideShort {
		return price < threshold
	}
	return price > threshold
}

// multipleFor scales the ATR-derived ratio only; a fixed ratio is used as is.
func multipleFor(p campaign.TrailingPolicy) float64 {
	if p.Auto {
		return p.EffectiveMultiple()
	}
	return 1
}
