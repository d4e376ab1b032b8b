package order

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"signal-trader/internal/fakeexchange"
	"signal-trader/pkg/exchanges/common"
)

func openReq() OpenRequest {
	return OpenRequest{
		CampaignID: "c1",
		InstID:     "BTC-USDT-SWAP",
		PosSide:    common.PosSideLong,
		MarginMode: common.MarginIsolated,
		Leverage:   5,
		SizeUSD:    100,
		SignalTS:   1_700_000_000_000,
	}
}

func TestOpenPositionRetriesTransportErrors(t *testing.T) {
	ex := fakeexchange.New()
	ex.Fail(fakeexchange.PlaceOrder, errors.New("connection reset"))
	g := NewGateway(ex, zerolog.Nop())

	res := g.OpenPosition(context.Background(), openReq())
	if res.Attempts != 3 {
		t.Fatalf("attempts=%d, expected 3", res.Attempts)
	}
	if !errors.Is(res.Err, ErrTransport) {
		t.Fatalf("err=%v, expected ErrTransport", res.Err)
	}
	if n := ex.Calls(fakeexchange.PlaceOrder); n != 3 {
		t.Fatalf("place calls=%d, expected 3", n)
	}
	if n := ex.Calls(fakeexchange.SetPositionMode); n != 3 {
		t.Fatalf("position mode calls=%d, expected the whole sequence per attempt", n)
	}
}

func TestOpenPositionStopsAtFirstSuccess(t *testing.T) {
	ex := fakeexchange.New()
	ex.Reject(fakeexchange.PlaceOrder, "Insufficient margin", 1)
	g := NewGateway(ex, zerolog.Nop())

	res := g.OpenPosition(context.Background(), openReq())
	if !res.OK() {
		t.Fatalf("err=%v, expected success", res.Err)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts=%d, expected 2", res.Attempts)
	}
	orders, _, _ := ex.Snapshot()
	if len(orders) != 2 {
		t.Fatalf("orders=%d, expected 2", len(orders))
	}
	if orders[0].ClOrdID == orders[1].ClOrdID {
		t.Fatalf("retries reused clOrdId %s", orders[0].ClOrdID)
	}
	if orders[0].Tag != orders[1].Tag {
		t.Fatalf("tag changed between attempts: %s vs %s", orders[0].Tag, orders[1].Tag)
	}
	o := orders[1]
	if o.Side != common.SideBuy || o.PosSide != common.PosSideLong || o.OrdType != "market" || o.Size != "1" {
		t.Fatalf("order=%+v, expected market buy long of 1 contract", o)
	}
}

func TestOpenPositionRejectedEveryAttempt(t *testing.T) {
	ex := fakeexchange.New()
	ex.Reject(fakeexchange.PlaceOrder, "Order failed", -1)
	res := NewGateway(ex, zerolog.Nop()).OpenPosition(context.Background(), openReq())
	if !errors.Is(res.Err, ErrExchangeRejected) {
		t.Fatalf("err=%v, expected ErrExchangeRejected", res.Err)
	}
	if res.Msg != "Order failed" || res.Attempts != 3 {
		t.Fatalf("msg=%q attempts=%d", res.Msg, res.Attempts)
	}
}

func TestOpenPositionIgnoresLeverageRejection(t *testing.T) {
	ex := fakeexchange.New()
	ex.Reject(fakeexchange.SetLeverage, "leverage unchanged", -1)
	ex.Reject(fakeexchange.SetPositionMode, "already in mode", -1)
	res := NewGateway(ex, zerolog.Nop()).OpenPosition(context.Background(), openReq())
	if !res.OK() || res.Attempts != 1 {
		t.Fatalf("res=%+v, expected success on first attempt", res)
	}
}

func TestOpenPositionConversionFailure(t *testing.T) {
	ex := fakeexchange.New()
	ex.ContractSz = "0"
	res := NewGateway(ex, zerolog.Nop()).OpenPosition(context.Background(), openReq())
	if !errors.Is(res.Err, ErrConversion) {
		t.Fatalf("err=%v, expected ErrConversion", res.Err)
	}
	if n := ex.Calls(fakeexchange.PlaceOrder); n != 0 {
		t.Fatalf("place calls=%d, expected none", n)
	}
}

func TestOpenTrailingStopConversionMakesNoOrder(t *testing.T) {
	tests := []struct {
		name      string
		sizeUSD   float64
		contracts string
		wantIndex int
	}{
		{"zero notional", 0, "1", 0},
		{"empty conversion", 50, "", 1},
		{"zero contracts", 50, "0", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := fakeexchange.New()
			ex.ContractSz = tt.contracts
			res := NewGateway(ex, zerolog.Nop()).OpenTrailingStop(context.Background(), TrailingRequest{
				CampaignID:    "c1",
				InstID:        "ETH-USDT-SWAP",
				PosSide:       common.PosSideShort,
				MarginMode:    common.MarginCross,
				SizeUSD:       tt.sizeUSD,
				CallbackRatio: 0.01,
			})
			if !errors.Is(res.Err, ErrConversion) {
				t.Fatalf("err=%v, expected ErrConversion", res.Err)
			}
			if n := ex.Calls(fakeexchange.PlaceAlgoOrder); n != 0 {
				t.Fatalf("algo calls=%d, expected none", n)
			}
			if n := ex.Calls(fakeexchange.IndexPrice); n != tt.wantIndex {
				t.Fatalf("index calls=%d, expected %d", n, tt.wantIndex)
			}
		})
	}
}

func TestOpenTrailingStopInvertsSide(t *testing.T) {
	ex := fakeexchange.New()
	res := NewGateway(ex, zerolog.Nop()).OpenTrailingStop(context.Background(), TrailingRequest{
		CampaignID:    "c1",
		InstID:        "ETH-USDT-SWAP",
		PosSide:       common.PosSideShort,
		MarginMode:    common.MarginIsolated,
		SizeUSD:       250,
		CallbackRatio: 0.0123456,
	})
	if !res.OK() {
		t.Fatalf("err=%v", res.Err)
	}
	_, _, algos := ex.Snapshot()
	if len(algos) != 1 {
		t.Fatalf("algos=%d, expected 1", len(algos))
	}
	a := algos[0]
	if a.Side != common.SideBuy || a.PosSide != common.PosSideShort || !a.ReduceOnly || a.OrdType != OrdTypeTrailingStop {
		t.Fatalf("algo=%+v, expected reduce-only buy trailing stop on short", a)
	}
	if a.CallbackRatio != "0.0123" {
		t.Fatalf("callbackRatio=%s, expected 0.0123", a.CallbackRatio)
	}
}

func TestClosePositionCancelsAtMostTen(t *testing.T) {
	ex := fakeexchange.New()
	for i := range 12 {
		ex.AddPendingAlgo(common.AlgoOrder{
			AlgoID:  strconv.Itoa(i),
			InstID:  "BTC-USDT-SWAP",
			OrdType: OrdTypeTrailingStop,
			PosSide: "long",
		})
	}
	ex.AddPendingAlgo(common.AlgoOrder{AlgoID: "other", InstID: "BTC-USDT-SWAP", OrdType: OrdTypeTrailingStop, PosSide: "short"})

	res := NewGateway(ex, zerolog.Nop()).ClosePosition(context.Background(), CloseRequest{
		CampaignID:     "c1",
		InstID:         "BTC-USDT-SWAP",
		PosSide:        common.PosSideLong,
		MarginMode:     common.MarginIsolated,
		CancelTrailing: true,
	})
	if !res.OK() {
		t.Fatalf("err=%v", res.Err)
	}
	if res.Cancel == nil || !res.Cancel.OK() {
		t.Fatalf("cancel=%+v, expected successful cancel", res.Cancel)
	}
	if len(ex.Cancel) != 1 || len(ex.Cancel[0]) != MaxCancelBatch {
		t.Fatalf("cancel batches=%v, expected one batch of %d", ex.Cancel, MaxCancelBatch)
	}
	for _, r := range ex.Cancel[0] {
		if r.AlgoID == "other" {
			t.Fatalf("cancelled the short side's trailing stop")
		}
	}
}

func TestClosePositionSkipsCancelWhenNothingPending(t *testing.T) {
	ex := fakeexchange.New()
	res := NewGateway(ex, zerolog.Nop()).ClosePosition(context.Background(), CloseRequest{
		CampaignID:     "c1",
		InstID:         "BTC-USDT-SWAP",
		PosSide:        common.PosSideShort,
		MarginMode:     common.MarginCross,
		CancelTrailing: true,
	})
	if n := ex.Calls(fakeexchange.CancelAlgoOrders); n != 0 {
		t.Fatalf("cancel calls=%d, expected 0", n)
	}
	if res.Cancel == nil || res.Cancel.Attempts != 0 {
		t.Fatalf("cancel=%+v, expected an empty cancel result", res.Cancel)
	}
	_, closes, _ := ex.Snapshot()
	if len(closes) != 1 || closes[0].PosSide != common.PosSideShort {
		t.Fatalf("closes=%+v", closes)
	}
}

func TestClosePositionRetries(t *testing.T) {
	ex := fakeexchange.New()
	ex.Fail(fakeexchange.ClosePosition, errors.New("timeout"))
	res := NewGateway(ex, zerolog.Nop()).ClosePosition(context.Background(), CloseRequest{
		CampaignID: "c1",
		InstID:     "BTC-USDT-SWAP",
		PosSide:    common.PosSideLong,
	})
	if res.Attempts != 3 || !errors.Is(res.Err, ErrTransport) {
		t.Fatalf("res=%+v, expected 3 transport failures", res)
	}
	if res.Cancel != nil {
		t.Fatalf("cancel attempted without CancelTrailing")
	}
}

func TestClientOrderIDDeterministic(t *testing.T) {
	k := OrderKey{CampaignID: "c1", InstID: "BTC-USDT-SWAP", Side: common.SideBuy, Leverage: 5, SizeUSD: 100}
	a, b := ClientOrderID(k, 1), ClientOrderID(k, 1)
	if a != b {
		t.Fatalf("ids differ: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "st") || !strings.HasSuffix(a, "a1") || len(a) > 32 {
		t.Fatalf("id=%s, expected st<hex>a1 within 32 chars", a)
	}
	if ClientOrderID(k, 2) == a {
		t.Fatalf("attempt does not change the id")
	}
	other := k
	other.Leverage = 10
	if ClientOrderID(other, 1) == a || Tag(other) == Tag(k) {
		t.Fatalf("leverage not part of the key")
	}
	if len(Tag(k)) != 16 {
		t.Fatalf("tag=%s, expected 16 chars", Tag(k))
	}
}

func TestCallbackRatio(t *testing.T) {
	tests := []struct {
		fluct, multiple, want float64
	}{
		{0.02, 1, 0.02},
		{0.02, 0.5, 0.01},
		{0.0005, 1, MinCallbackRatio},
		{0.001, 1, MinCallbackRatio},
		{0, 1, MinCallbackRatio},
		{0.8, 2, MaxCallbackRatio},
	}
	for _, tt := range tests {
		if got := CallbackRatio(tt.fluct, tt.multiple); got != tt.want {
			t.Fatalf("CallbackRatio(%v,%v)=%v, expected %v", tt.fluct, tt.multiple, got, tt.want)
		}
	}
}

func TestEstimateTrailingLoss(t *testing.T) {
	long := EstimateTrailingLoss(common.PosSideLong, 100, 0.02, 1000)
	if long.StopPrice != 98 || long.PnL != -20 {
		t.Fatalf("long=%+v, expected stop 98 pnl -20", long)
	}
	short := EstimateTrailingLoss(common.PosSideShort, 100, 0.02, 1000)
	if short.StopPrice != 102 || short.PnL != -20 {
		t.Fatalf("short=%+v, expected stop 102 pnl -20", short)
	}
}
