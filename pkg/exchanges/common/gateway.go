package common

import "context"

// TradeAPI is the signed trading surface of the venue.
type TradeAPI interface {
	SetPositionMode(ctx context.Context, mode string) (Response, error)
	SetLeverage(ctx context.Context, instID string, leverage int, mode MarginMode, side PosSide) (Response, error)
	IndexPrice(ctx context.Context, instID string) (float64, error)
	ContractSize(ctx context.Context, instID, coinAmount string) (string, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Response, error)
	ClosePosition(ctx context.Context, req ClosePositionRequest) (Response, error)
	PlaceAlgoOrder(ctx context.Context, req AlgoOrderRequest) (Response, error)
	PendingAlgoOrders(ctx context.Context, instID, ordType string) ([]AlgoOrder, error)
	CancelAlgoOrders(ctx context.Context, reqs []CancelAlgoRequest) (Response, error)
}

// MarketAPI provides the read-side data the engine polls.
type MarketAPI interface {
	Candles(ctx context.Context, instID, bar string, limit int) ([]Candle, error)
	OpenPositions(ctx context.Context) ([]Position, error)
	TradeableInstruments(ctx context.Context, mode string) ([]string, error)
}

// Subscription is a live websocket subscription. Messages is closed when the
// subscription ends; Err then reports why.
type Subscription interface {
	Messages() <-chan StreamMessage
	Err() error
	Close() error
}

// StreamAPI opens acknowledged channel subscriptions.
type StreamAPI interface {
	SubscribeCandles(ctx context.Context, args []StreamArg) (Subscription, error)
	SubscribeTicks(ctx context.Context, args []StreamArg) (Subscription, error)
}
