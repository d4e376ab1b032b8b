package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signal-trader/pkg/exchanges/common"
)

const (
	// DefaultMaxAttempts bounds open and close retries.
	DefaultMaxAttempts = 3
	// MaxCancelBatch is the most algo orders cancelled per instrument.
	MaxCancelBatch = 10

	positionModeLongShort = "long_short_mode"
)

// Gateway turns trading decisions into exchange calls.
type Gateway struct {
	api         common.TradeAPI
	log         zerolog.Logger
	maxAttempts int
}

// NewGateway wraps api.
func NewGateway(api common.TradeAPI, logger zerolog.Logger) *Gateway {
	return &Gateway{
		api:         api,
		log:         logger.With().Str("component", "order-gateway").Logger(),
		maxAttempts: DefaultMaxAttempts,
	}
}

// OpenPosition runs position mode, leverage, sizing and a market order as one
// sequence, retried up to three times until the exchange returns no message.
func (g *Gateway) OpenPosition(ctx context.Context, req OpenRequest) Result {
	key := OrderKey{
		CampaignID: req.CampaignID,
		InstID:     req.InstID,
		Side:       req.PosSide.OpenSide(),
		Leverage:   req.Leverage,
		SizeUSD:    req.SizeUSD,
		SignalTS:   req.SignalTS,
	}
	res := Result{Action: ActionOpen, InstID: req.InstID, PosSide: req.PosSide}
	g.retry(ctx, &res, key, func(clOrdID string) (common.Response, error) {
		return g.openOnce(ctx, req, key, clOrdID)
	})
	return res
}

func (g *Gateway) openOnce(ctx context.Context, req OpenRequest, key OrderKey, clOrdID string) (common.Response, error) {
	log := g.log.With().Str("inst", req.InstID).Str("pos_side", string(req.PosSide)).Logger()

	resp, err := g.api.SetPositionMode(ctx, positionModeLongShort)
	if err != nil {
		return common.Response{}, fmt.Errorf("%w: set position mode: %w", ErrTransport, err)
	}
	if resp.Rejected() {
		log.Debug().Str("code", resp.Code).Str("msg", resp.Msg).Msg("position mode unchanged")
	}

	resp, err = g.api.SetLeverage(ctx, req.InstID, req.Leverage, req.MarginMode, req.PosSide)
	if err != nil {
		return common.Response{}, fmt.Errorf("%w: set leverage: %w", ErrTransport, err)
	}
	if resp.Rejected() {
		log.Warn().Str("code", resp.Code).Str("msg", resp.Msg).Int("leverage", req.Leverage).Msg("leverage not applied")
	}

	sz, err := g.contracts(ctx, req.InstID, req.SizeUSD)
	if err != nil {
		return common.Response{}, err
	}

	resp, err = g.api.PlaceOrder(ctx, common.OrderRequest{
		InstID:  req.InstID,
		TdMode:  req.MarginMode,
		Side:    req.PosSide.OpenSide(),
		PosSide: req.PosSide,
		OrdType: "market",
		Size:    sz,
		ClOrdID: clOrdID,
		Tag:     Tag(key),
	})
	if err != nil {
		return common.Response{}, fmt.Errorf("%w: place order: %w", ErrTransport, err)
	}
	if resp.Rejected() {
		return resp, fmt.Errorf("%w: %s", ErrExchangeRejected, resp.Msg)
	}
	return resp, nil
}

// ClosePosition flattens one side at market, optionally cancelling its
// trailing stops first. A failed cancel does not block the close.
func (g *Gateway) ClosePosition(ctx context.Context, req CloseRequest) Result {
	res := Result{Action: ActionClose, InstID: req.InstID, PosSide: req.PosSide}
	if req.CancelTrailing {
		cancel := g.CancelTrailingStops(ctx, req.InstID, req.PosSide)
		res.Cancel = &cancel
		if cancel.Err != nil {
			g.log.Warn().Err(cancel.Err).Str("inst", req.InstID).Msg("trailing cancel failed; closing anyway")
		}
	}

	key := OrderKey{
		CampaignID: req.CampaignID,
		InstID:     req.InstID,
		Side:       req.PosSide.CloseSide(),
		SignalTS:   req.SignalTS,
	}
	g.retry(ctx, &res, key, func(clOrdID string) (common.Response, error) {
		resp, err := g.api.ClosePosition(ctx, common.ClosePositionRequest{
			InstID:     req.InstID,
			MarginMode: req.MarginMode,
			PosSide:    req.PosSide,
			ClOrdID:    clOrdID,
			Tag:        Tag(key),
		})
		if err != nil {
			return common.Response{}, fmt.Errorf("%w: close position: %w", ErrTransport, err)
		}
		if resp.Rejected() {
			return resp, fmt.Errorf("%w: %s", ErrExchangeRejected, resp.Msg)
		}
		return resp, nil
	})
	return res
}

// CancelTrailingStops cancels pending trailing stops on instID for side.
// Attempts is zero when nothing needed cancelling.
func (g *Gateway) CancelTrailingStops(ctx context.Context, instID string, side common.PosSide) Result {
	res := Result{Action: ActionCancelTrailing, InstID: instID, PosSide: side}
	pending, err := g.api.PendingAlgoOrders(ctx, instID, OrdTypeTrailingStop)
	if err != nil {
		res.Err = fmt.Errorf("%w: pending algo orders: %w", ErrTransport, err)
		return res
	}

	reqs := make([]common.CancelAlgoRequest, 0, MaxCancelBatch)
	for _, o := range pending {
		if o.PosSide != "" && common.PosSide(o.PosSide) != side {
			continue
		}
		reqs = append(reqs, common.CancelAlgoRequest{AlgoID: o.AlgoID, InstID: instID})
		if len(reqs) == MaxCancelBatch {
			break
		}
	}
	if len(reqs) == 0 {
		return res
	}

	res.Attempts = 1
	resp, err := g.api.CancelAlgoOrders(ctx, reqs)
	res.Code, res.Msg = resp.Code, resp.Msg
	switch {
	case err != nil:
		res.Err = fmt.Errorf("%w: cancel algo orders: %w", ErrTransport, err)
	case resp.Rejected():
		res.Err = fmt.Errorf("%w: %s", ErrExchangeRejected, resp.Msg)
	default:
		g.log.Info().Str("inst", instID).Int("count", len(reqs)).Msg("trailing stops cancelled")
	}
	return res
}

// OpenTrailingStop places a reduce-only trailing stop on the side opposite to
// the position. It is not retried.
func (g *Gateway) OpenTrailingStop(ctx context.Context, req TrailingRequest) Result {
	res := Result{Action: ActionTrailingStop, InstID: req.InstID, PosSide: req.PosSide}
	if req.SizeUSD <= 0 {
		res.Err = fmt.Errorf("%w: no notional for %s", ErrConversion, req.InstID)
		return res
	}
	sz, err := g.contracts(ctx, req.InstID, req.SizeUSD)
	if err != nil {
		res.Err = err
		return res
	}

	key := OrderKey{
		CampaignID: req.CampaignID,
		InstID:     req.InstID,
		Side:       req.PosSide.CloseSide(),
		SizeUSD:    req.SizeUSD,
	}
	res.Attempts = 1
	resp, err := g.api.PlaceAlgoOrder(ctx, common.AlgoOrderRequest{
		InstID:        req.InstID,
		TdMode:        req.MarginMode,
		Side:          req.PosSide.CloseSide(),
		PosSide:       req.PosSide,
		OrdType:       OrdTypeTrailingStop,
		Size:          sz,
		CallbackRatio: FormatRatio(CallbackRatio(req.CallbackRatio, 1)),
		ReduceOnly:    true,
		Tag:           Tag(key),
	})
	res.Code, res.Msg = resp.Code, resp.Msg
	switch {
	case err != nil:
		res.Err = fmt.Errorf("%w: place trailing stop: %w", ErrTransport, err)
	case resp.Rejected():
		res.Err = fmt.Errorf("%w: %s", ErrExchangeRejected, resp.Msg)
	}
	return res
}

// contracts converts a USD amount to an exchange contract size string.
func (g *Gateway) contracts(ctx context.Context, instID string, sizeUSD float64) (string, error) {
	idx, err := g.api.IndexPrice(ctx, instID)
	if err != nil {
		return "", fmt.Errorf("%w: index price: %w", ErrTransport, err)
	}
	coin, ok := CoinAmount(sizeUSD, idx)
	if !ok {
		return "", fmt.Errorf("%w: %v USD at index %v", ErrConversion, sizeUSD, idx)
	}
	sz, err := g.api.ContractSize(ctx, instID, coin)
	if err != nil {
		return "", fmt.Errorf("%w: convert contract: %w", ErrTransport, err)
	}
	if !PositiveSize(sz) {
		return "", fmt.Errorf("%w: %s coins of %s rounds to %q contracts", ErrConversion, coin, instID, sz)
	}
	return sz, nil
}

// retry runs call with a fresh client order id per attempt and stops at the
// first success.
func (g *Gateway) retry(ctx context.Context, res *Result, key OrderKey, call func(clOrdID string) (common.Response, error)) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		res.Attempts = attempt
		res.ClientOrderID = ClientOrderID(key, attempt)
		resp, err := call(res.ClientOrderID)
		res.Code, res.Msg, res.Err = resp.Code, resp.Msg, err
		if err == nil {
			g.log.Info().
				Str("action", string(res.Action)).
				Str("inst", res.InstID).
				Str("pos_side", string(res.PosSide)).
				Int("attempt", attempt).
				Msg("order accepted")
			return
		}
		g.log.Warn().Err(err).
			Str("action", string(res.Action)).
			Str("inst", res.InstID).
			Int("attempt", attempt).
			Msg("order attempt failed")
		if ctx.Err() != nil {
			return
		}
	}
}
