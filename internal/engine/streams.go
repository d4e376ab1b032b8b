package engine

import (
	"context"
	"errors"
	"time"

	"signal-trader/internal/campaign"
	"signal-trader/internal/events"
	"signal-trader/internal/market"
	"signal-trader/pkg/exchanges/common"
)

// runCandles owns the campaign's candle stream until the campaign ends.
func (e *Engine) runCandles(ctx context.Context, c *campaign.Campaign) {
	defer e.wg.Done()

	args := []common.StreamArg{{Channel: "mark-price-candle" + c.Config.Bar, InstID: e.params.ReferenceInst}}
	var lastConfirmed int64
	err := e.streams.Run(ctx, market.KindCandles, args, market.Hooks{
		OnConnected: func(ctx context.Context, reconnect bool) {
			e.reg.SetState(c.ID, campaign.StateStreaming)
			e.publish(events.EventStreamConnected, events.StreamPayload{
				CampaignID: c.ID, Kind: string(market.KindCandles), Reconnect: reconnect,
			})
			_ = e.refreshPositions(ctx, c)
		},
		OnMessage: func(ctx context.Context, msg common.StreamMessage) {
			for _, cd := range msg.Candles {
				if !cd.Confirmed || cd.Timestamp <= lastConfirmed {
					continue
				}
				lastConfirmed = cd.Timestamp
				e.evaluate(ctx, c, cd.Timestamp)
			}
		},
		OnReconnecting: func(attempt int, wait time.Duration, cause error) {
			e.reg.SetState(c.ID, campaign.StateReconnecting)
			e.onReconnecting(c, market.KindCandles, attempt, wait, cause)
		},
	})
	e.finish(c, market.KindCandles, err)
}

// ensureTickStream starts the mark-price stream once per campaign.
func (e *Engine) ensureTickStream(ctx context.Context, c *campaign.Campaign) {
	if !c.Config.Trailing.Enabled() || c.Config.ArmOnOpen {
		return
	}
	if !e.reg.HasPositions(c.ID) || !e.reg.ClaimTickStream(c.ID) {
		return
	}
	symbols := e.reg.Symbols(c.ID)
	args := make([]common.StreamArg, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, common.StreamArg{Channel: "mark-price", InstID: s})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.reg.ReleaseTickStream(c.ID)
		err := e.streams.Run(ctx, market.KindTicks, args, market.Hooks{
			OnConnected: func(ctx context.Context, reconnect bool) {
				e.publish(events.EventStreamConnected, events.StreamPayload{
					CampaignID: c.ID, Kind: string(market.KindTicks), Reconnect: reconnect,
				})
				_ = e.refreshPositions(ctx, c)
			},
			OnMessage: func(ctx context.Context, msg common.StreamMessage) {
				for _, t := range msg.Ticks {
					e.trail.OnTick(ctx, c.ID, t.InstID, t.Price)
				}
			},
			OnReconnecting: func(attempt int, wait time.Duration, cause error) {
				e.onReconnecting(c, market.KindTicks, attempt, wait, cause)
			},
		})
		e.finish(c, market.KindTicks, err)
	}()
}

func (e *Engine) onReconnecting(c *campaign.Campaign, kind market.Kind, attempt int, wait time.Duration, cause error) {
	e.reg.RecordReconnect(c.ID)
	p := events.StreamPayload{CampaignID: c.ID, Kind: string(kind), Attempt: attempt, Wait: wait}
	var closed *common.StreamClosedError
	if errors.As(cause, &closed) {
		p.Code = closed.Code
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	e.publish(events.EventStreamReconnecting, p)
}

// finish handles a stream that ended. A nil err means the campaign context
// was cancelled and Stop already cleaned up; anything else ends the campaign.
func (e *Engine) finish(c *campaign.Campaign, kind market.Kind, err error) {
	if err == nil {
		return
	}
	p := events.StreamPayload{CampaignID: c.ID, Kind: string(kind), Error: err.Error()}
	reason := "stream closed"
	var closed *common.StreamClosedError
	switch {
	case errors.As(err, &closed) && closed.Deliberate():
		p.Code = closed.Code
	case errors.Is(err, market.ErrRetriesExhausted):
		reason = "reconnect attempts exhausted"
	}
	if !e.reg.RemoveInstance(c) {
		return
	}
	e.log.Warn().Err(err).Str("campaign", c.ID).Str("kind", string(kind)).Msg("campaign ended by stream")
	e.publish(events.EventStreamClosed, p)
	e.publish(events.EventCampaignStopped, events.CampaignPayload{CampaignID: c.ID, Reason: reason})
}

// refreshPositions replaces the cached positions of c with exchange data.
func (e *Engine) refreshPositions(ctx context.Context, c *campaign.Campaign) error {
	positions, err := e.market.OpenPositions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Warn().Err(err).Str("campaign", c.ID).Msg("position refresh failed")
			e.publish(events.EventEvaluationError, events.ErrorPayload{CampaignID: c.ID, Stage: "positions", Error: err.Error()})
		}
		return err
	}
	if !e.alive(c) {
		return nil
	}
	e.reg.ReplacePositions(c.ID, positions)
	s, _ := e.reg.Summary(c.ID)
	e.publish(events.EventPositionsRefreshed, events.PositionsPayload{CampaignID: c.ID, Count: len(s.Positions)})
	return nil
}
