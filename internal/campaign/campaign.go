package campaign

import (
	"context"
	"slices"
	"sync"
	"time"

	"signal-trader/pkg/exchanges/common"
)

// State is the lifecycle stage of a campaign.
type State string

const (
	StateStarting     State = "starting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Campaign is one running trading session. Its mutable state is only reached
// through Registry accessors.
type Campaign struct {
	ID        string
	Config    Config
	StartedAt time.Time

	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	symbols    []string
	lastSignal map[string]int64
	positions  map[string]common.Position
	armed      map[string]bool
	inFlight   map[string]bool
	windows    map[string]*Window
	tickStream bool
	reconnects int
}

// New creates a campaign in the starting state. cancel stops every goroutine
// the campaign owns.
func New(id string, cfg Config, cancel context.CancelFunc) *Campaign {
	if cancel == nil {
		cancel = func() {}
	}
	return &Campaign{
		ID:         id,
		Config:     cfg,
		StartedAt:  time.Now(),
		cancel:     cancel,
		state:      StateStarting,
		lastSignal: make(map[string]int64),
		positions:  make(map[string]common.Position),
		armed:      make(map[string]bool),
		inFlight:   make(map[string]bool),
		windows:    make(map[string]*Window),
	}
}

// Summary is the reporting view of a campaign.
type Summary struct {
	ID         string            `json:"id"`
	Config     Config            `json:"config"`
	State      State             `json:"state"`
	Symbols    int               `json:"symbols"`
	Positions  []common.Position `json:"positions"`
	Reconnects int               `json:"reconnects"`
	StartedAt  time.Time         `json:"started_at"`
}

func (c *Campaign) summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	positions := make([]common.Position, 0, len(c.positions))
	for _, p := range c.positions {
		positions = append(positions, p)
	}
	slices.SortFunc(positions, func(a, b common.Position) int {
		switch {
		case a.InstID < b.InstID:
			return -1
		case a.InstID > b.InstID:
			return 1
		}
		return 0
	})
	return Summary{
		ID:         c.ID,
		Config:     c.Config,
		State:      c.state,
		Symbols:    len(c.symbols),
		Positions:  positions,
		Reconnects: c.reconnects,
		StartedAt:  c.StartedAt,
	}
}
