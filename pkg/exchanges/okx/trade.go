package okx

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"signal-trader/pkg/exchanges/common"
)

// SetPositionMode switches the account between net and long/short mode.
func (c *Client) SetPositionMode(ctx context.Context, mode string) (common.Response, error) {
	return c.post(ctx, "/api/v5/account/set-position-mode", map[string]string{"posMode": mode})
}

// SetLeverage sets leverage for an instrument. posSide only applies to isolated margin in long/short mode.
func (c *Client) SetLeverage(ctx context.Context, instID string, leverage int, mode common.MarginMode, side common.PosSide) (common.Response, error) {
	body := map[string]string{
		"instId":  instID,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": string(mode),
	}
	if mode == common.MarginIsolated && side != "" {
		body["posSide"] = string(side)
	}
	return c.post(ctx, "/api/v5/account/set-leverage", body)
}

// PlaceOrder submits a regular order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Response, error) {
	return c.post(ctx, "/api/v5/trade/order", req)
}

// ClosePosition market-closes one side of a position.
func (c *Client) ClosePosition(ctx context.Context, req common.ClosePositionRequest) (common.Response, error) {
	return c.post(ctx, "/api/v5/trade/close-position", req)
}

// PlaceAlgoOrder submits a conditional order.
func (c *Client) PlaceAlgoOrder(ctx context.Context, req common.AlgoOrderRequest) (common.Response, error) {
	return c.post(ctx, "/api/v5/trade/order-algo", req)
}

// PendingAlgoOrders lists untriggered algo orders of one type for instID.
func (c *Client) PendingAlgoOrders(ctx context.Context, instID, ordType string) ([]common.AlgoOrder, error) {
	q := url.Values{}
	q.Set("ordType", ordType)
	if instID != "" {
		q.Set("instId", instID)
	}
	res, err := c.get(ctx, "/api/v5/trade/orders-algo-pending", q, true)
	if err != nil {
		return nil, err
	}
	var orders []common.AlgoOrder
	if err := decodeData(res, &orders); err != nil {
		return nil, fmt.Errorf("pending algo orders %s: %w", instID, err)
	}
	return orders, nil
}

// CancelAlgoOrders cancels a batch of algo orders.
func (c *Client) CancelAlgoOrders(ctx context.Context, reqs []common.CancelAlgoRequest) (common.Response, error) {
	return c.post(ctx, "/api/v5/trade/cancel-algos", reqs)
}

// OpenPositions returns every non-empty swap position on the account.
func (c *Client) OpenPositions(ctx context.Context) ([]common.Position, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	res, err := c.get(ctx, "/api/v5/account/positions", q, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID      string `json:"instId"`
		PosSide     string `json:"posSide"`
		MgnMode     string `json:"mgnMode"`
		AvgPx       string `json:"avgPx"`
		NotionalUsd string `json:"notionalUsd"`
		Pos         string `json:"pos"`
		Lever       string `json:"lever"`
		UTime       string `json:"uTime"`
	}
	if err := decodeData(res, &rows); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]common.Position, 0, len(rows))
	for _, r := range rows {
		contracts := toFloat(r.Pos)
		if contracts == 0 {
			continue
		}
		out = append(out, common.Position{
			InstID:      r.InstID,
			PosSide:     common.PosSide(r.PosSide),
			MarginMode:  common.MarginMode(r.MgnMode),
			AvgPx:       toFloat(r.AvgPx),
			NotionalUSD: toFloat(r.NotionalUsd),
			Contracts:   contracts,
			Leverage:    toFloat(r.Lever),
			UpdatedAt:   toInt64(r.UTime),
		})
	}
	return out, nil
}

// PositionsHistory returns up to limit closed swap positions, newest first.
// OKX caps limit at 100.
func (c *Client) PositionsHistory(ctx context.Context, limit int) ([]common.ClosedPosition, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(min(limit, 100)))
	}
	res, err := c.get(ctx, "/api/v5/account/positions-history", q, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID      string `json:"instId"`
		PosSide     string `json:"posSide"`
		MgnMode     string `json:"mgnMode"`
		Lever       string `json:"lever"`
		OpenAvgPx   string `json:"openAvgPx"`
		CloseAvgPx  string `json:"closeAvgPx"`
		OpenMaxPos  string `json:"openMaxPos"`
		Pnl         string `json:"pnl"`
		RealizedPnl string `json:"realizedPnl"`
		Fee         string `json:"fee"`
		FundingFee  string `json:"fundingFee"`
		CTime       string `json:"cTime"`
		UTime       string `json:"uTime"`
	}
	if err := decodeData(res, &rows); err != nil {
		return nil, fmt.Errorf("positions history: %w", err)
	}
	out := make([]common.ClosedPosition, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.ClosedPosition{
			InstID:      r.InstID,
			PosSide:     common.PosSide(r.PosSide),
			MarginMode:  common.MarginMode(r.MgnMode),
			Leverage:    toFloat(r.Lever),
			OpenAvgPx:   toFloat(r.OpenAvgPx),
			CloseAvgPx:  toFloat(r.CloseAvgPx),
			OpenMaxPos:  toFloat(r.OpenMaxPos),
			PnL:         toFloat(r.Pnl),
			RealizedPnL: toFloat(r.RealizedPnl),
			Fee:         toFloat(r.Fee),
			FundingFee:  toFloat(r.FundingFee),
			OpenedAt:    toInt64(r.CTime),
			UpdatedAt:   toInt64(r.UTime),
		})
	}
	return out, nil
}
