package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu     sync.Mutex
	out    []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func (f *fakeChannel) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

func TestPublishEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, DefaultExchange, zerolog.Nop())
	at := time.Unix(50, 0).UTC()
	msg := events.Message{ID: "id-1", Event: events.EventSignalDetected, Payload: events.SignalPayload{CampaignID: "c", Type: "bearish"}, At: at}

	if err := p.PublishEvent(context.Background(), msg); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	out := ch.sent()
	if len(out) != 1 {
		t.Fatalf("published=%d, expected 1", len(out))
	}
	got := out[0]
	if got.exchange != DefaultExchange || got.key != "signal.detected" || got.msg.MessageId != "id-1" || !got.msg.Timestamp.Equal(at) {
		t.Fatalf("publishing=%+v", got)
	}
	var body struct {
		Event   string `json:"event"`
		Payload struct {
			Type string `json:"type"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Event != "signal.detected" || body.Payload.Type != "bearish" {
		t.Fatalf("body=%+v", body)
	}
}

func TestSendAlertRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "x", zerolog.Nop())
	if err := p.Send(context.Background(), monitor.Alert{Severity: monitor.SeverityCritical, Message: "down"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out := ch.sent(); out[0].key != "alert.critical" || out[0].msg.MessageId == "" {
		t.Fatalf("publishing=%+v", out[0])
	}

	ch.err = errors.New("channel closed")
	if err := p.Send(context.Background(), monitor.Alert{Severity: monitor.SeverityWarning}); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("Close err=%v closed=%v", err, ch.closed)
	}
}

func TestRunForwardsBus(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "x", zerolog.Nop())
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, bus)

	deadline := time.Now().Add(2 * time.Second)
	for len(ch.sent()) == 0 {
		bus.Publish(events.EventCampaignStarted, events.CampaignPayload{CampaignID: "c"})
		if time.Now().After(deadline) {
			t.Fatalf("nothing forwarded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if k := ch.sent()[0].key; k != "campaign.started" {
		t.Fatalf("key=%s, expected campaign.started", k)
	}
}
