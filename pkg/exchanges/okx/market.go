package okx

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"signal-trader/pkg/exchanges/common"
)

// Instrument is the subset of a swap contract definition the engine needs.
type Instrument struct {
	InstID    string  `json:"instId"`
	SettleCcy string  `json:"settleCcy"`
	CtValCcy  string  `json:"ctValCcy"`
	State     string  `json:"state"`
	CtVal     float64 `json:"-"`
	LotSz     float64 `json:"-"`
	MinSz     float64 `json:"-"`
}

// Candles returns up to limit recent candles in ascending timestamp order.
func (c *Client) Candles(ctx context.Context, instID, bar string, limit int) ([]common.Candle, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(limit))
	res, err := c.get(ctx, "/api/v5/market/candles", q, false)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := decodeData(res, &rows); err != nil {
		return nil, fmt.Errorf("candles %s: %w", instID, err)
	}
	out := make([]common.Candle, 0, len(rows))
	for _, row := range rows {
		cd, ok := parseCandleRow(row)
		if !ok {
			continue
		}
		out = append(out, cd)
	}
	// OKX returns newest first.
	slices.Reverse(out)
	return out, nil
}

// parseCandleRow decodes [ts,o,h,l,c,(vol,volCcy,volCcyQuote,)confirm].
func parseCandleRow(row []string) (common.Candle, bool) {
	if len(row) < 6 {
		return common.Candle{}, false
	}
	cd := common.Candle{
		Timestamp: toInt64(row[0]),
		Open:      toFloat(row[1]),
		High:      toFloat(row[2]),
		Low:       toFloat(row[3]),
		Close:     toFloat(row[4]),
		Confirmed: row[len(row)-1] == "1",
	}
	if len(row) >= 9 {
		cd.Volume = toFloat(row[5])
	}
	return cd, true
}

// IndexPrice returns the index price underlying a swap, e.g. BTC-USDT for BTC-USDT-SWAP.
func (c *Client) IndexPrice(ctx context.Context, instID string) (float64, error) {
	indexID := IndexID(instID)
	q := url.Values{}
	q.Set("instId", indexID)
	res, err := c.get(ctx, "/api/v5/market/index-tickers", q, false)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		IdxPx string `json:"idxPx"`
	}
	if err := decodeData(res, &rows); err != nil {
		return 0, fmt.Errorf("index price %s: %w", indexID, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("index price %s: empty response", indexID)
	}
	return toFloat(rows[0].IdxPx), nil
}

// ContractSize converts a coin amount into a contract count for instID.
func (c *Client) ContractSize(ctx context.Context, instID, coinAmount string) (string, error) {
	q := url.Values{}
	q.Set("type", "1")
	q.Set("instId", instID)
	q.Set("sz", coinAmount)
	res, err := c.get(ctx, "/api/v5/public/convert-contract-coin", q, false)
	if err != nil {
		return "", err
	}
	var rows []struct {
		Sz string `json:"sz"`
	}
	if err := decodeData(res, &rows); err != nil {
		return "", fmt.Errorf("convert %s: %w", instID, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Sz, nil
}

// Instruments lists perpetual swaps. The listing is cached for a few minutes.
func (c *Client) Instruments(ctx context.Context) ([]Instrument, error) {
	return c.instCache.GetOrLoad("SWAP", func() ([]Instrument, error) {
		return c.fetchInstruments(ctx)
	})
}

func (c *Client) fetchInstruments(ctx context.Context) ([]Instrument, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	res, err := c.get(ctx, "/api/v5/public/instruments", q, false)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Instrument
		CtVal string `json:"ctVal"`
		LotSz string `json:"lotSz"`
		MinSz string `json:"minSz"`
	}
	if err := decodeData(res, &rows); err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}
	out := make([]Instrument, 0, len(rows))
	for _, r := range rows {
		inst := r.Instrument
		inst.CtVal, inst.LotSz, inst.MinSz = toFloat(r.CtVal), toFloat(r.LotSz), toFloat(r.MinSz)
		out = append(out, inst)
	}
	return out, nil
}

// TradeableInstruments resolves a universe mode into live USDT swap ids.
// Modes: "all", "whitelist" (the configured base currencies) or an explicit
// comma-separated list of base currencies or instrument ids.
func (c *Client) TradeableInstruments(ctx context.Context, mode string) ([]string, error) {
	insts, err := c.Instruments(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(insts))
	for _, in := range insts {
		if in.State == "live" && in.SettleCcy == "USDT" {
			live = append(live, in.InstID)
		}
	}
	return SelectInstruments(live, mode, c.cfg.Whitelist), nil
}

// SelectInstruments filters live instrument ids by universe mode.
func SelectInstruments(live []string, mode string, whitelist []string) []string {
	mode = strings.TrimSpace(mode)
	if strings.EqualFold(mode, "all") {
		return slices.Clone(live)
	}
	wanted := whitelist
	if mode != "" && !strings.EqualFold(mode, "whitelist") {
		wanted = strings.Split(mode, ",")
	}
	out := make([]string, 0, len(wanted))
	for _, w := range wanted {
		id := SwapID(w)
		if id != "" && slices.Contains(live, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// SwapID normalises "btc", "BTC-USDT" or "BTC-USDT-SWAP" to BTC-USDT-SWAP.
func SwapID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.HasSuffix(s, "-SWAP"):
		return s
	case strings.Contains(s, "-"):
		return s + "-SWAP"
	default:
		return s + "-USDT-SWAP"
	}
}

// IndexID maps a swap id such as BTC-USDT-SWAP to its index BTC-USDT.
func IndexID(instID string) string {
	return strings.TrimSuffix(instID, "-SWAP")
}
