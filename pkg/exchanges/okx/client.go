package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/pkg/cache"
	"signal-trader/pkg/exchanges/common"
)

const defaultBaseURL = "https://www.okx.com"

// Config holds OKX credentials and endpoint overrides.
type Config struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Demo       bool // adds the simulated-trading header
	BaseURL    string
	Whitelist  []string // base currencies for the "whitelist" universe mode
}

// Client talks to the OKX v5 REST API.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *common.TimeSync
	limiter    *common.RateLimiter
	instCache  *cache.Sharded[[]Instrument]
	log        zerolog.Logger
}

// NewClient creates a REST client. Call StartTimeSync to keep signatures aligned with server time.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		instCache:  cache.New[[]Instrument](5 * time.Minute),
		log:        logger.With().Str("component", "okx").Logger(),
	}
	c.timeSync = common.NewTimeSync(c.ServerTime, c.log)

	// Per-endpoint limits from the OKX v5 documentation, expressed per second.
	c.limiter = common.NewRateLimiter(10, 20)
	c.limiter.SetRule("/api/v5/trade/order", 30, 60)
	c.limiter.SetRule("/api/v5/trade/close-position", 10, 20)
	c.limiter.SetRule("/api/v5/trade/order-algo", 10, 20)
	c.limiter.SetRule("/api/v5/market/candles", 20, 40)
	return c
}

// Now returns local time corrected by the last server time offset.
func (c *Client) Now() time.Time { return c.timeSync.Now() }

// StartTimeSync keeps the signing clock aligned until ctx is done.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// ServerTime returns the venue clock in unix milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	res, err := c.get(ctx, "/api/v5/public/time", nil, false)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		TS string `json:"ts"`
	}
	if err := decodeData(res, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("okx: empty server time")
	}
	return strconv.ParseInt(rows[0].TS, 10, 64)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool) (common.Response, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, signed)
}

func (c *Client) post(ctx context.Context, path string, body any) (common.Response, error) {
	return c.do(ctx, http.MethodPost, path, nil, body, true)
}

// do executes one REST call. A well-formed error envelope is returned as a
// Response with a non-empty Msg; err is reserved for transport failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool) (common.Response, error) {
	if err := c.limiter.Wait(ctx, path); err != nil {
		return common.Response{}, err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return common.Response{}, fmt.Errorf("okx encode %s: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return common.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" || c.cfg.Passphrase == "" {
			return common.Response{}, errors.New("okx: API key, secret and passphrase required")
		}
		ts := c.timeSync.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", sign(ts+method+requestPath+string(payload), c.cfg.APISecret))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}
	if c.cfg.Demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return common.Response{}, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return common.Response{}, fmt.Errorf("okx read %s: %w", path, err)
	}

	var out common.Response
	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr != nil || out.Code == "" {
		if res.StatusCode >= 300 {
			return common.Response{}, fmt.Errorf("okx %s %s status %d: %s", method, path, res.StatusCode, string(raw))
		}
		if decodeErr == nil {
			decodeErr = errors.New("missing response code")
		}
		return common.Response{}, fmt.Errorf("okx decode %s: %w", path, decodeErr)
	}
	if out.Code != "0" && out.Msg == "" {
		out.Msg = firstStatusMessage(out.Data)
		if out.Msg == "" {
			out.Msg = "okx error code " + out.Code
		}
	}
	return out, nil
}

// firstStatusMessage extracts the per-item sMsg OKX puts in data for batch-style errors.
func firstStatusMessage(data json.RawMessage) string {
	var rows []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if json.Unmarshal(data, &rows) != nil {
		return ""
	}
	for _, r := range rows {
		if r.SMsg != "" {
			return r.SMsg
		}
	}
	return ""
}

func decodeData(res common.Response, dst any) error {
	if res.Rejected() {
		return fmt.Errorf("okx rejected: %s", res.Msg)
	}
	if len(res.Data) == 0 {
		return nil
	}
	return json.Unmarshal(res.Data, dst)
}

func sign(prehash, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
