package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-trader/pkg/exchanges/common"
)

const (
	publicWS       = "wss://ws.okx.com:8443/ws/v5/public"
	businessWS     = "wss://ws.okx.com:8443/ws/v5/business"
	demoPublicWS   = "wss://wspap.okx.com:8443/ws/v5/public"
	demoBusinessWS = "wss://wspap.okx.com:8443/ws/v5/business"
)

// StreamClient opens OKX websocket subscriptions. Candle channels live on the
// business endpoint, mark-price ticks on the public one.
type StreamClient struct {
	PublicURL    string
	BusinessURL  string
	PingInterval time.Duration
	AckTimeout   time.Duration
	dialer       *websocket.Dialer
	log          zerolog.Logger
}

// NewStreamClient builds a websocket client; demo toggles the paper-trading hosts.
func NewStreamClient(demo bool, logger zerolog.Logger) *StreamClient {
	c := &StreamClient{
		PublicURL:    publicWS,
		BusinessURL:  businessWS,
		PingInterval: 25 * time.Second,
		AckTimeout:   10 * time.Second,
		dialer:       websocket.DefaultDialer,
		log:          logger.With().Str("component", "okx-ws").Logger(),
	}
	if demo {
		c.PublicURL, c.BusinessURL = demoPublicWS, demoBusinessWS
	}
	return c
}

// SubscribeCandles subscribes to candle channels such as mark-price-candle1m.
func (c *StreamClient) SubscribeCandles(ctx context.Context, args []common.StreamArg) (common.Subscription, error) {
	s, err := c.subscribe(ctx, c.BusinessURL, args)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SubscribeTicks subscribes to mark-price channels.
func (c *StreamClient) SubscribeTicks(ctx context.Context, args []common.StreamArg) (common.Subscription, error) {
	s, err := c.subscribe(ctx, c.PublicURL, args)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// subscribe dials, sends the subscribe op and waits until every argument is acknowledged.
func (c *StreamClient) subscribe(ctx context.Context, endpoint string, args []common.StreamArg) (*subscription, error) {
	if len(args) == 0 {
		return nil, errors.New("okx ws: no subscription arguments")
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial okx ws: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("okx ws subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.AckTimeout))
	var pending []common.StreamMessage
	for acked := 0; acked < len(args); {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("okx ws awaiting ack: %w", err)
		}
		f, err := parseFrame(raw)
		if err != nil {
			continue
		}
		switch f.event {
		case "subscribe":
			acked++
		case "error":
			_ = conn.Close()
			return nil, fmt.Errorf("okx ws subscribe rejected: %s %s", f.code, f.msg)
		case "":
			if f.message != nil {
				pending = append(pending, *f.message)
			}
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &subscription{
		conn: conn,
		out:  make(chan common.StreamMessage, 64),
		done: make(chan struct{}),
		log:  c.log.With().Str("endpoint", endpoint).Logger(),
	}
	go s.run(ctx, pending)
	go s.keepAlive(c.PingInterval)
	return s, nil
}

type subscription struct {
	conn    *websocket.Conn
	out     chan common.StreamMessage
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	err     error
	log     zerolog.Logger
}

func (s *subscription) Messages() <-chan common.StreamMessage { return s.out }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription from our side. It reports as a deliberate close.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *subscription) run(ctx context.Context, pending []common.StreamMessage) {
	defer close(s.out)
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for _, m := range pending {
		if !s.emit(m) {
			s.fail(nil)
			return
		}
	}
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		if string(raw) == "pong" {
			continue
		}
		f, err := parseFrame(raw)
		if err != nil {
			s.log.Debug().Err(err).Msg("skip undecodable frame")
			continue
		}
		if f.event == "error" {
			s.log.Warn().Str("code", f.code).Str("msg", f.msg).Msg("stream error event")
			continue
		}
		if f.message == nil {
			continue
		}
		if !s.emit(*f.message) {
			s.fail(nil)
			return
		}
	}
}

func (s *subscription) emit(m common.StreamMessage) bool {
	select {
	case s.out <- m:
		return true
	case <-s.done:
		return false
	}
}

// fail records why the read loop ended.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.err = &common.StreamClosedError{Code: common.CloseNoStatus, Reason: "closed by client"}
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.err = &common.StreamClosedError{Code: ce.Code, Reason: ce.Text, Err: err}
		return
	}
	s.err = &common.StreamClosedError{Code: websocket.CloseAbnormalClosure, Reason: errString(err), Err: err}
}

func (s *subscription) keepAlive(every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type frame struct {
	event   string
	code    string
	msg     string
	message *common.StreamMessage
}

// parseFrame decodes event acks and candle / mark-price data pushes.
func parseFrame(raw []byte) (frame, error) {
	var env struct {
		Event string           `json:"event"`
		Code  string           `json:"code"`
		Msg   string           `json:"msg"`
		Arg   common.StreamArg `json:"arg"`
		Data  json.RawMessage  `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return frame{}, err
	}
	f := frame{event: env.Event, code: env.Code, msg: env.Msg}
	if env.Event != "" || len(env.Data) == 0 {
		return f, nil
	}

	m := common.StreamMessage{Arg: env.Arg}
	switch {
	case strings.Contains(env.Arg.Channel, "candle"):
		var rows [][]string
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return frame{}, err
		}
		for _, row := range rows {
			if cd, ok := parseCandleRow(row); ok {
				m.Candles = append(m.Candles, cd)
			}
		}
	case env.Arg.Channel == "mark-price":
		var rows []struct {
			InstID string `json:"instId"`
			MarkPx string `json:"markPx"`
			TS     string `json:"ts"`
		}
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return frame{}, err
		}
		for _, r := range rows {
			m.Ticks = append(m.Ticks, common.Tick{InstID: r.InstID, Price: toFloat(r.MarkPx), Timestamp: toInt64(r.TS)})
		}
	default:
		return f, nil
	}
	f.message = &m
	return f, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
