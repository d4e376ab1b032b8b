// Package fakeexchange is a scripted in-memory venue implementing the
// common trading and market interfaces. Orders move positions immediately at
// the current index price.
package fakeexchange

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"signal-trader/pkg/exchanges/common"
)

// Method names used by Fail, Reject and Calls.
const (
	SetPositionMode      = "SetPositionMode"
	SetLeverage          = "SetLeverage"
	IndexPrice           = "IndexPrice"
	ContractSize         = "ContractSize"
	PlaceOrder           = "PlaceOrder"
	ClosePosition        = "ClosePosition"
	PlaceAlgoOrder       = "PlaceAlgoOrder"
	PendingAlgoOrders    = "PendingAlgoOrders"
	CancelAlgoOrders     = "CancelAlgoOrders"
	Candles              = "Candles"
	OpenPositions        = "OpenPositions"
	TradeableInstruments = "TradeableInstruments"
)

type rejection struct {
	msg       string
	remaining int
}

type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Exchange is safe for concurrent use.
type Exchange struct {
	mu sync.Mutex

	IndexPx    float64
	ContractSz string
	Universe   []string

	calls     map[string]int
	failures  map[string]error
	rejects   map[string]*rejection
	gates     map[string]*gate
	candles   map[string][]common.Candle
	positions map[string]common.Position
	pending   []common.AlgoOrder

	Orders []common.OrderRequest
	Closes []common.ClosePositionRequest
	Algos  []common.AlgoOrderRequest
	Cancel [][]common.CancelAlgoRequest
}

// New returns a venue quoting every index at 100 with one-contract fills.
func New() *Exchange {
	return &Exchange{
		IndexPx:    100,
		ContractSz: "1",
		calls:      make(map[string]int),
		failures:   make(map[string]error),
		rejects:    make(map[string]*rejection),
		gates:      make(map[string]*gate),
		candles:    make(map[string][]common.Candle),
		positions:  make(map[string]common.Position),
	}
}

// Fail makes every call to method return err until cleared with a nil err.
func (e *Exchange) Fail(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, method)
		return
	}
	e.failures[method] = err
}

// FailFor makes method fail with err for instID only. Only Candles honours it.
func (e *Exchange) FailFor(method, instID string, err error) {
	e.Fail(method+"/"+instID, err)
}

// Reject answers the next n calls to method with msg. n < 0 rejects forever.
func (e *Exchange) Reject(method, msg string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejects[method] = &rejection{msg: msg, remaining: n}
}

// Hold parks every call to method until release is called. entered receives
// a value when a call starts waiting.
func (e *Exchange) Hold(method string) (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	e.mu.Lock()
	e.gates[method] = g
	e.mu.Unlock()
	return g.entered, func() { g.once.Do(func() { close(g.release) }) }
}

func (e *Exchange) wait(method string) {
	e.mu.Lock()
	g := e.gates[method]
	e.mu.Unlock()
	if g == nil {
		return
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
}

// Calls returns how often method was invoked.
func (e *Exchange) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// SetCandles stores the candle history served for instID.
func (e *Exchange) SetCandles(instID string, candles []common.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[instID] = slices.Clone(candles)
}

// SetPosition seeds an open position.
func (e *Exchange) SetPosition(p common.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[posKey(p.InstID, p.PosSide)] = p
}

// RemovePosition drops a position as if it was closed outside the engine.
func (e *Exchange) RemovePosition(instID string, side common.PosSide) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, posKey(instID, side))
}

// AddPendingAlgo seeds a pending algo order.
func (e *Exchange) AddPendingAlgo(o common.AlgoOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, o)
}

// Snapshot returns copies of the recorded requests.
func (e *Exchange) Snapshot() (orders []common.OrderRequest, closes []common.ClosePositionRequest, algos []common.AlgoOrderRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.Orders), slices.Clone(e.Closes), slices.Clone(e.Algos)
}

// enter records a call and returns the scripted failure or rejection.
// Callers hold e.mu.
func (e *Exchange) enter(method string) (common.Response, bool, error) {
	e.calls[method]++
	if err := e.failures[method]; err != nil {
		return common.Response{}, true, err
	}
	if r := e.rejects[method]; r != nil && r.remaining != 0 {
		if r.remaining > 0 {
			r.remaining--
		}
		return common.Response{Code: "51000", Msg: r.msg}, true, nil
	}
	return common.Response{Code: "0"}, false, nil
}

func (e *Exchange) SetPositionMode(_ context.Context, _ string) (common.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, _, err := e.enter(SetPositionMode)
	return resp, err
}

func (e *Exchange) SetLeverage(_ context.Context, _ string, _ int, _ common.MarginMode, _ common.PosSide) (common.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, _, err := e.enter(SetLeverage)
	return resp, err
}

func (e *Exchange) IndexPrice(_ context.Context, _ string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.enter(IndexPrice); err != nil {
		return 0, err
	}
	return e.IndexPx, nil
}

func (e *Exchange) ContractSize(_ context.Context, _, _ string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.enter(ContractSize); err != nil {
		return "", err
	}
	return e.ContractSz, nil
}

func (e *Exchange) PlaceOrder(_ context.Context, req common.OrderRequest) (common.Response, error) {
	e.wait(PlaceOrder)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Orders = append(e.Orders, req)
	resp, stop, err := e.enter(PlaceOrder)
	if stop {
		return resp, err
	}
	sz, _ := strconv.ParseFloat(req.Size, 64)
	e.positions[posKey(req.InstID, req.PosSide)] = common.Position{
		InstID:      req.InstID,
		PosSide:     req.PosSide,
		MarginMode:  req.TdMode,
		AvgPx:       e.IndexPx,
		NotionalUSD: sz * e.IndexPx,
		Contracts:   sz,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	return resp, nil
}

func (e *Exchange) ClosePosition(_ context.Context, req common.ClosePositionRequest) (common.Response, error) {
	e.wait(ClosePosition)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closes = append(e.Closes, req)
	resp, stop, err := e.enter(ClosePosition)
	if stop {
		return resp, err
	}
	delete(e.positions, posKey(req.InstID, req.PosSide))
	return resp, nil
}

func (e *Exchange) PlaceAlgoOrder(_ context.Context, req common.AlgoOrderRequest) (common.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Algos = append(e.Algos, req)
	resp, stop, err := e.enter(PlaceAlgoOrder)
	if stop {
		return resp, err
	}
	e.pending = append(e.pending, common.AlgoOrder{
		AlgoID:        strconv.Itoa(len(e.Algos)),
		InstID:        req.InstID,
		OrdType:       req.OrdType,
		PosSide:       string(req.PosSide),
		State:         "live",
		CallbackRatio: req.CallbackRatio,
		Size:          req.Size,
	})
	return resp, nil
}

func (e *Exchange) PendingAlgoOrders(_ context.Context, instID, ordType string) ([]common.AlgoOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.enter(PendingAlgoOrders); err != nil {
		return nil, err
	}
	var out []common.AlgoOrder
	for _, o := range e.pending {
		if o.InstID == instID && o.OrdType == ordType {
			out = append(out, o)
		}
	}
	return out, nil
}

func (e *Exchange) CancelAlgoOrders(_ context.Context, reqs []common.CancelAlgoRequest) (common.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Cancel = append(e.Cancel, slices.Clone(reqs))
	resp, stop, err := e.enter(CancelAlgoOrders)
	if stop {
		return resp, err
	}
	e.pending = slices.DeleteFunc(e.pending, func(o common.AlgoOrder) bool {
		return slices.ContainsFunc(reqs, func(r common.CancelAlgoRequest) bool { return r.AlgoID == o.AlgoID })
	})
	return resp, nil
}

func (e *Exchange) Candles(_ context.Context, instID, _ string, limit int) ([]common.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.enter(Candles); err != nil {
		return nil, err
	}
	if err := e.failures[Candles+"/"+instID]; err != nil {
		return nil, err
	}
	c := e.candles[instID]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return slices.Clone(c), nil
}

func (e *Exchange) OpenPositions(_ context.Context) ([]common.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.enter(OpenPositions); err != nil {
		return nil, err
	}
	out := make([]common.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b common.Position) int {
		if a.InstID != b.InstID {
			if a.InstID < b.InstID {
				return -1
			}
			return 1
		}
		if a.PosSide < b.PosSide {
			return -1
		}
		return 1
	})
	return out, nil
}

func (e *Exchange) TradeableInstruments(_ context.Context, _ string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.enter(TradeableInstruments); err != nil {
		return nil, err
	}
	return slices.Clone(e.Universe), nil
}

func posKey(instID string, side common.PosSide) string {
	return instID + "/" + string(side)
}
