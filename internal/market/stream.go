package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/pkg/exchanges/common"
)

// ErrRetriesExhausted is returned by Run when the policy gives up reconnecting.
var ErrRetriesExhausted = errors.New("stream reconnect attempts exhausted")

// Kind selects the websocket channel family.
type Kind string

const (
	KindCandles Kind = "candles"
	KindTicks   Kind = "ticks"
)

// Hooks receive stream lifecycle callbacks. Every hook is optional and runs on
// the stream goroutine, so messages are handled strictly in order.
type Hooks struct {
	// OnConnected fires after each acknowledged subscribe, including reconnects.
	OnConnected func(ctx context.Context, reconnect bool)
	OnMessage   func(ctx context.Context, msg common.StreamMessage)
	// OnReconnecting fires before waiting for the next attempt.
	OnReconnecting func(attempt int, wait time.Duration, cause error)
}

// Manager keeps one subscription alive under a ReconnectPolicy.
type Manager struct {
	api    common.StreamAPI
	policy ReconnectPolicy
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewManager builds a manager over api.
func NewManager(api common.StreamAPI, policy ReconnectPolicy, logger zerolog.Logger) *Manager {
	return &Manager{
		api:    api,
		policy: policy,
		log:    logger.With().Str("component", "stream").Logger(),
		sleep:  sleepCtx,
	}
}

// Run subscribes and pumps messages until ctx is cancelled (nil), the peer
// closes deliberately (the *common.StreamClosedError) or reconnect attempts
// run out (ErrRetriesExhausted).
func (m *Manager) Run(ctx context.Context, kind Kind, args []common.StreamArg, hooks Hooks) error {
	retrier := m.policy.NewRetrier()
	log := m.log.With().Str("kind", string(kind)).Int("args", len(args)).Logger()
	connected := false

	for {
		sub, err := m.subscribe(ctx, kind, args)
		if err == nil {
			retrier.Reset()
			if hooks.OnConnected != nil {
				hooks.OnConnected(ctx, connected)
			}
			connected = true
			log.Info().Msg("stream subscribed")
			err = m.consume(ctx, sub, hooks)
		}
		if ctx.Err() != nil {
			return nil
		}

		var closed *common.StreamClosedError
		if errors.As(err, &closed) && closed.Deliberate() {
			log.Info().Int("code", closed.Code).Msg("stream closed deliberately")
			return err
		}

		wait, ok := retrier.Next()
		if !ok {
			log.Error().Err(err).Int("attempts", retrier.Attempts()).Msg("giving up on stream")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retrier.Attempts(), err)
		}
		log.Warn().Err(err).Int("attempt", retrier.Attempts()).Dur("wait", wait).Msg("stream reconnecting")
		if hooks.OnReconnecting != nil {
			hooks.OnReconnecting(retrier.Attempts(), wait, err)
		}
		if err := m.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (m *Manager) subscribe(ctx context.Context, kind Kind, args []common.StreamArg) (common.Subscription, error) {
	switch kind {
	case KindCandles:
		return m.api.SubscribeCandles(ctx, args)
	case KindTicks:
		return m.api.SubscribeTicks(ctx, args)
	}
	return nil, fmt.Errorf("unknown stream kind %q", kind)
}

func (m *Manager) consume(ctx context.Context, sub common.Subscription, hooks Hooks) error {
	defer sub.Close()
	for msg := range sub.Messages() {
		if hooks.OnMessage != nil {
			hooks.OnMessage(ctx, msg)
		}
	}
	if err := sub.Err(); err != nil {
		return err
	}
	return &common.StreamClosedError{Code: 1006, Reason: "stream ended without error"}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
