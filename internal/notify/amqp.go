package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "signal-trader.events"

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards bus events and alerts to a RabbitMQ topic exchange.
// Routing keys are the event names ("order.result") and "alert.<severity>".
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	timeout  time.Duration
	log      zerolog.Logger
}

// Dial connects to url, retrying a few times, and declares the exchange.
func Dial(ctx context.Context, url, exchange string, logger zerolog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	log := logger.With().Str("component", "amqp").Logger()

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("amqp connect failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := newPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, log zerolog.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, timeout: 5 * time.Second, log: log}
}

// Run forwards every bus event until ctx ends.
func (p *Publisher) Run(ctx context.Context, bus *events.Bus) {
	stream, unsub := bus.SubscribeAll(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := p.PublishEvent(ctx, msg); err != nil {
				p.log.Warn().Err(err).Str("event", string(msg.Event)).Msg("publish event")
			}
		}
	}
}

// PublishEvent sends one bus message; its id becomes the AMQP MessageId.
func (p *Publisher) PublishEvent(ctx context.Context, msg events.Message) error {
	return p.publish(ctx, string(msg.Event), msg.ID, msg.At, msg)
}

// Send implements monitor.AlertSink.
func (p *Publisher) Send(ctx context.Context, a monitor.Alert) error {
	return p.publish(ctx, "alert."+string(a.Severity), uuid.NewString(), a.At, a)
}

func (p *Publisher) publish(ctx context.Context, key, id string, at time.Time, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    at,
		Body:         body,
	})
}

// Close shuts the channel and connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
