package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/internal/campaign"
	"signal-trader/internal/events"
	"signal-trader/internal/fakeexchange"
	"signal-trader/internal/market"
	"signal-trader/internal/order"
	"signal-trader/pkg/exchanges/common"
)

const (
	btc = "BTC-USDT-SWAP"
	eth = "ETH-USDT-SWAP"
	sol = "SOL-USDT-SWAP"
)

type harness struct {
	eng    *Engine
	ex     *fakeexchange.Exchange
	stream *market.MockStream
	events <-chan events.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ex := fakeexchange.New()
	ex.Universe = []string{btc}
	ex.SetCandles(btc, crossoverWindow())

	ms := market.NewMockStream(8)
	bus := events.NewBus()
	all, unsub := bus.SubscribeAll(256)
	t.Cleanup(unsub)

	policy := market.ReconnectPolicy{Min: time.Millisecond, Max: time.Millisecond, Factor: 2, MaxAttempts: 2}
	eng := New(Options{
		Market:  ex,
		Gateway: order.NewGateway(ex, zerolog.Nop()),
		Streams: market.NewManager(ms, policy, zerolog.Nop()),
		Bus:     bus,
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return &harness{eng: eng, ex: ex, stream: ms, events: all}
}

// crossoverWindow is 22 flat candles, a dip and a rally: bullish at the last candle.
func crossoverWindow() []common.Candle {
	closes := make([]float64, 0, 24)
	for range 22 {
		closes = append(closes, 100)
	}
	closes = append(closes, 99, 101)
	out := make([]common.Candle, len(closes))
	for i, c := range closes {
		out[i] = common.Candle{Timestamp: int64(i+1) * 60_000, Open: c, High: c, Low: c, Close: c, Confirmed: true}
	}
	return out
}

func lastTS() int64 { return int64(24) * 60_000 }

func (h *harness) nextSub(t *testing.T, kind market.Kind) *market.MockSubscription {
	t.Helper()
	select {
	case s := <-h.stream.Opened():
		if s.Kind != kind {
			t.Fatalf("opened %s stream, expected %s", s.Kind, kind)
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s stream opened", kind)
		return nil
	}
}

func (h *harness) waitFor(t *testing.T, ev events.Event, match func(any) bool) any {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-h.events:
			if m.Event == ev && (match == nil || match(m.Payload)) {
				return m.Payload
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", ev)
			return nil
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func confirmed(ts int64) common.StreamMessage {
	return common.StreamMessage{
		Arg:     common.StreamArg{Channel: "mark-price-candle15m", InstID: btc},
		Candles: []common.Candle{{Timestamp: ts, Close: 101, Confirmed: true}},
	}
}

func openResult(p any) bool {
	o := p.(events.OrderPayload)
	return o.Action == string(order.ActionOpen)
}

func TestStartDuplicateLeavesExistingUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.eng.Start(ctx, "c1", campaign.Config{Leverage: 3}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles)

	err := h.eng.Start(ctx, "c1", campaign.Config{Leverage: 50})
	if !errors.Is(err, campaign.ErrDuplicateCampaign) {
		t.Fatalf("err=%v, expected ErrDuplicateCampaign", err)
	}
	s, err := h.eng.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Config.Leverage != 3 {
		t.Fatalf("leverage=%d, expected untouched 3", s.Config.Leverage)
	}
	if n := h.stream.Calls(market.KindCandles); n != 1 {
		t.Fatalf("candle subscriptions=%d, expected 1", n)
	}
}

func TestStartWithoutInstruments(t *testing.T) {
	h := newHarness(t)
	h.ex.Universe = nil
	err := h.eng.Start(context.Background(), "c1", campaign.Config{})
	if !errors.Is(err, ErrNoInstruments) {
		t.Fatalf("err=%v, expected ErrNoInstruments", err)
	}
	if h.eng.Registry().Has("c1") {
		t.Fatalf("campaign registered without instruments")
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	err := h.eng.Start(context.Background(), "c1", campaign.Config{Leverage: 500})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err=%v, expected ErrInvalidConfig", err)
	}
}

func TestConfirmedCrossoverOpensLong(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := h.nextSub(t, market.KindCandles)
	if sub.Args[0].Channel != "mark-price-candle15m" || sub.Args[0].InstID != btc {
		t.Fatalf("args=%+v", sub.Args)
	}
	h.waitFor(t, events.EventStreamConnected, nil)

	// an unconfirmed update is ignored
	sub.Push(common.StreamMessage{Candles: []common.Candle{{Timestamp: lastTS(), Close: 101}}})
	sub.Push(confirmed(lastTS()))

	sig := h.waitFor(t, events.EventSignalDetected, nil).(events.SignalPayload)
	if sig.Type != "bullish" || sig.Timestamp != lastTS() || sig.InstID != btc {
		t.Fatalf("signal=%+v", sig)
	}
	res := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if !res.OK || res.PosSide != "long" || res.Attempts != 1 {
		t.Fatalf("open result=%+v", res)
	}
	h.waitFor(t, events.EventPositionsRefreshed, func(p any) bool { return p.(events.PositionsPayload).Count == 1 })

	pos, ok := h.eng.Registry().Position("c1", btc)
	if !ok || pos.PosSide != common.PosSideLong {
		t.Fatalf("cached position=%+v ok=%v, expected long", pos, ok)
	}
	if st, _ := h.eng.Registry().State("c1"); st != campaign.StateStreaming {
		t.Fatalf("state=%s, expected streaming", st)
	}

	// the same confirmed candle again must not trade twice
	sub.Push(confirmed(lastTS()))
	sub.Push(confirmed(lastTS() + 60_000))
	eventually(t, func() bool { return h.ex.Calls(fakeexchange.Candles) == 2 })
	orders, _, _ := h.ex.Snapshot()
	if len(orders) != 1 {
		t.Fatalf("orders=%d, expected 1", len(orders))
	}
}

func TestCrossoverClosesOppositeFirst(t *testing.T) {
	h := newHarness(t)
	h.ex.SetPosition(common.Position{InstID: btc, PosSide: common.PosSideShort, MarginMode: common.MarginIsolated, AvgPx: 102, NotionalUSD: 100})
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := h.nextSub(t, market.KindCandles)
	h.waitFor(t, events.EventPositionsRefreshed, nil)
	sub.Push(confirmed(lastTS()))

	closed := h.waitFor(t, events.EventOrderResult, func(p any) bool {
		return p.(events.OrderPayload).Action == string(order.ActionClose)
	}).(events.OrderPayload)
	if !closed.OK || closed.PosSide != "short" {
		t.Fatalf("close=%+v", closed)
	}
	opened := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if !opened.OK || opened.PosSide != "long" {
		t.Fatalf("open=%+v", opened)
	}
}

func TestCrossoverWithoutPositionStillClosesOpposite(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Push(confirmed(lastTS()))

	closed := h.waitFor(t, events.EventOrderResult, func(p any) bool {
		return p.(events.OrderPayload).Action == string(order.ActionClose)
	}).(events.OrderPayload)
	if closed.PosSide != "short" {
		t.Fatalf("close=%+v, expected close-short", closed)
	}
	opened := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if !opened.OK || opened.PosSide != "long" {
		t.Fatalf("open=%+v, expected open-long", opened)
	}
	_, closes, _ := h.ex.Snapshot()
	if len(closes) != 1 || closes[0].PosSide != common.PosSideShort {
		t.Fatalf("closes=%+v, expected one close-short", closes)
	}
}

func TestRejectedCloseOfStalePositionStillOpens(t *testing.T) {
	h := newHarness(t)
	h.ex.SetPosition(common.Position{InstID: btc, PosSide: common.PosSideShort, MarginMode: common.MarginIsolated, AvgPx: 102, NotionalUSD: 100})
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := h.nextSub(t, market.KindCandles)
	h.waitFor(t, events.EventPositionsRefreshed, func(p any) bool { return p.(events.PositionsPayload).Count == 1 })

	// the short was stopped out on the exchange but is still cached
	h.ex.RemovePosition(btc, common.PosSideShort)
	h.ex.Reject(fakeexchange.ClosePosition, "Position does not exist", -1)
	sub.Push(confirmed(lastTS()))

	closed := h.waitFor(t, events.EventOrderResult, func(p any) bool {
		return p.(events.OrderPayload).Action == string(order.ActionClose)
	}).(events.OrderPayload)
	if closed.OK || !closed.Tolerated || closed.Attempts != 3 || closed.Reason == "" {
		t.Fatalf("close=%+v, expected tolerated rejection after 3 attempts", closed)
	}
	opened := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if !opened.OK || opened.PosSide != "long" {
		t.Fatalf("open=%+v, expected open-long", opened)
	}
	eventually(t, func() bool {
		p, ok := h.eng.Registry().Position("c1", btc)
		return ok && p.PosSide == common.PosSideLong
	})
}

func TestCloseTransportErrorAbortsOpen(t *testing.T) {
	h := newHarness(t)
	h.ex.Fail(fakeexchange.ClosePosition, errors.New("connection reset"))
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Push(confirmed(lastTS()))

	closed := h.waitFor(t, events.EventOrderResult, func(p any) bool {
		return p.(events.OrderPayload).Action == string(order.ActionClose)
	}).(events.OrderPayload)
	if closed.OK || closed.Tolerated {
		t.Fatalf("close=%+v, expected a fatal failure", closed)
	}
	failed := h.waitFor(t, events.EventEvaluationError, nil).(events.ErrorPayload)
	if failed.InstID != btc || failed.Stage != "evaluate" {
		t.Fatalf("error=%+v", failed)
	}
	if n := h.ex.Calls(fakeexchange.PlaceOrder); n != 0 {
		t.Fatalf("place calls=%d, expected 0", n)
	}
}

func TestSymbolFailureDoesNotAbortSiblings(t *testing.T) {
	h := newHarness(t)
	h.ex.Universe = []string{btc, eth, sol}
	h.ex.FailFor(fakeexchange.Candles, eth, errors.New("upstream 503"))
	h.ex.SetCandles(sol, crossoverWindow()[21:])
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Push(confirmed(lastTS()))

	failed := h.waitFor(t, events.EventEvaluationError, nil).(events.ErrorPayload)
	if failed.InstID != eth {
		t.Fatalf("error=%+v, expected %s", failed, eth)
	}
	opened := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if !opened.OK || opened.InstID != btc {
		t.Fatalf("open=%+v, expected %s to trade", opened, btc)
	}
	eventually(t, func() bool { return h.ex.Calls(fakeexchange.Candles) == 3 })
	orders, _, _ := h.ex.Snapshot()
	if len(orders) != 1 || orders[0].InstID != btc {
		t.Fatalf("orders=%+v, expected one %s order", orders, btc)
	}
}

func TestStopDiscardsInFlightOrderResult(t *testing.T) {
	h := newHarness(t)
	entered, release := h.ex.Hold(fakeexchange.PlaceOrder)
	t.Cleanup(release)
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Push(confirmed(lastTS()))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("open order never reached the exchange")
	}
	if err := h.eng.Stop(context.Background(), "c1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	release()
	eventually(t, func() bool { return h.ex.Calls(fakeexchange.PlaceOrder) == 1 })

	quiet := time.After(200 * time.Millisecond)
	for {
		select {
		case m := <-h.events:
			if m.Event == events.EventOrderResult && openResult(m.Payload) {
				t.Fatalf("open result published after Stop: %+v", m.Payload)
			}
		case <-quiet:
			return
		}
	}
}

func TestSlopeOutsideBoundsSkipsOpen(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{SlopeMin: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := h.nextSub(t, market.KindCandles)
	sub.Push(confirmed(lastTS()))

	res := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if !res.Skipped || res.Reason == "" {
		t.Fatalf("result=%+v, expected skipped open", res)
	}
	if n := h.ex.Calls(fakeexchange.PlaceOrder); n != 0 {
		t.Fatalf("place calls=%d, expected 0", n)
	}
}

func TestDeliberateCloseStopsCampaign(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := h.nextSub(t, market.KindCandles)
	sub.End(&common.StreamClosedError{Code: common.CloseNoStatus, Reason: "server shutdown"})

	stopped := h.waitFor(t, events.EventCampaignStopped, nil).(events.CampaignPayload)
	if stopped.CampaignID != "c1" {
		t.Fatalf("stopped=%+v", stopped)
	}
	if h.eng.Registry().Has("c1") {
		t.Fatalf("campaign still registered")
	}
	if n := h.stream.Calls(market.KindCandles); n != 1 {
		t.Fatalf("subscriptions=%d, deliberate close must not reconnect", n)
	}
}

func TestDroppedStreamReconnects(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Drop()
	rc := h.waitFor(t, events.EventStreamReconnecting, nil).(events.StreamPayload)
	if rc.Attempt != 1 || rc.Code != 1006 {
		t.Fatalf("reconnecting=%+v", rc)
	}
	h.nextSub(t, market.KindCandles)
	h.waitFor(t, events.EventStreamConnected, func(p any) bool { return p.(events.StreamPayload).Reconnect })

	s, _ := h.eng.Get(context.Background(), "c1")
	if s.State != campaign.StateStreaming || s.Reconnects != 1 {
		t.Fatalf("summary=%+v, expected streaming after one reconnect", s)
	}
}

func TestStopAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		if err := h.eng.Start(ctx, id, campaign.Config{}); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
		h.nextSub(t, market.KindCandles)
	}
	var ids []string
	for s := range h.eng.List(ctx) {
		ids = append(ids, s.ID)
	}
	if len(ids) != 2 || ids[0] != "a" {
		t.Fatalf("ids=%v, expected [a b]", ids)
	}

	if err := h.eng.Stop(ctx, "a"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.eng.Stop(ctx, "a"); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("err=%v, expected ErrCampaignNotFound", err)
	}
	if n := h.eng.StopAll(ctx); n != 1 {
		t.Fatalf("StopAll=%d, expected 1", n)
	}
	if st := h.eng.GetSystemStatus(ctx); st.Campaigns != 0 {
		t.Fatalf("campaigns=%d, expected 0", st.Campaigns)
	}
}

func TestTickStreamArmsTrailingStop(t *testing.T) {
	h := newHarness(t)
	policy, _ := campaign.ParseTrailingPolicy("auto")
	if err := h.eng.Start(context.Background(), "c1", campaign.Config{Trailing: policy}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Push(confirmed(lastTS()))

	ticks := h.nextSub(t, market.KindTicks)
	if len(ticks.Args) != 1 || ticks.Args[0].Channel != "mark-price" {
		t.Fatalf("tick args=%+v", ticks.Args)
	}
	res := h.waitFor(t, events.EventOrderResult, openResult).(events.OrderPayload)
	if res.EstimatedStop == 0 || res.EstimatedStop >= 101 {
		t.Fatalf("estimated stop=%v, expected below entry", res.EstimatedStop)
	}
	h.waitFor(t, events.EventPositionsRefreshed, nil)

	for _, px := range []float64{105, 106} {
		ticks.Push(common.StreamMessage{Ticks: []common.Tick{{InstID: btc, Price: px}}})
	}
	armed := h.waitFor(t, events.EventTrailingArmed, nil).(events.TrailingPayload)
	if !armed.OK || armed.MarkPx != 105 {
		t.Fatalf("armed=%+v", armed)
	}
	if n := h.ex.Calls(fakeexchange.PlaceAlgoOrder); n != 1 {
		t.Fatalf("algo orders=%d, expected 1", n)
	}
}

func TestArmOnOpenPlacesStopImmediately(t *testing.T) {
	h := newHarness(t)
	policy, _ := campaign.ParseTrailingPolicy("0.02")
	cfg := campaign.Config{Trailing: policy, ArmOnOpen: true}
	if err := h.eng.Start(context.Background(), "c1", cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.nextSub(t, market.KindCandles).Push(confirmed(lastTS()))

	armed := h.waitFor(t, events.EventTrailingArmed, nil).(events.TrailingPayload)
	if !armed.OK || armed.CallbackRatio != 0.02 {
		t.Fatalf("armed=%+v", armed)
	}
	if !h.eng.Registry().TrailingArmed("c1", btc) {
		t.Fatalf("latch not set")
	}
	if n := h.stream.Calls(market.KindTicks); n != 0 {
		t.Fatalf("tick subscriptions=%d, expected none with arm-on-open", n)
	}
}
