package monitor

import (
	"context"

	"github.com/rs/zerolog"

	"signal-trader/internal/events"
)

// Monitor watches the bus, feeds metrics and forwards alerts to the sinks.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Sinks   []AlertSink
	Log     zerolog.Logger
}

// Start subscribes and returns immediately; the loop ends with ctx.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		m.Log.Warn().Msg("monitor has no bus; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeAll(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.Handle(ctx, msg)
			}
		}
	}()
}

// Handle processes one message.
func (m *Monitor) Handle(ctx context.Context, msg events.Message) {
	if m.Metrics != nil {
		m.Metrics.Observe(msg)
	}
	a, ok := Evaluate(msg)
	if !ok {
		return
	}
	for _, s := range m.Sinks {
		if err := s.Send(ctx, a); err != nil {
			m.Log.Warn().Err(err).Msg("alert delivery failed")
		}
	}
}
