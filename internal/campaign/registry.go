package campaign

import (
	"errors"
	"iter"
	"slices"
	"sync"

	"signal-trader/pkg/exchanges/common"
)

var (
	ErrDuplicateCampaign = errors.New("campaign already running")
	ErrNotFound          = errors.New("campaign not found")
)

// Registry is the single owner of campaign runtime state. Every accessor is
// keyed by campaign id (and instrument where relevant) and applies its change
// atomically under the campaign lock.
type Registry struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{campaigns: make(map[string]*Campaign)}
}

// Add inserts c. An existing campaign with the same id is left untouched.
func (r *Registry) Add(c *Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.campaigns[c.ID]; exists {
		return ErrDuplicateCampaign
	}
	r.campaigns[c.ID] = c
	return nil
}

// Remove deletes the campaign, marks it stopped and cancels its goroutines.
func (r *Registry) Remove(id string) (*Campaign, bool) {
	r.mu.Lock()
	c, ok := r.campaigns[id]
	if ok {
		delete(r.campaigns, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.cancel()
	return c, true
}

// RemoveInstance removes id only while it still maps to c, so a late cleanup
// from a previous incarnation cannot delete a newer campaign with the same id.
func (r *Registry) RemoveInstance(c *Campaign) bool {
	r.mu.Lock()
	cur, ok := r.campaigns[c.ID]
	if ok && cur == c {
		delete(r.campaigns, c.ID)
	}
	r.mu.Unlock()
	if !ok || cur != c {
		return false
	}
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.cancel()
	return true
}

// Get returns the campaign for id.
func (r *Registry) Get(id string) (*Campaign, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	return c, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Len returns the number of registered campaigns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.campaigns)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.campaigns))
	for id := range r.campaigns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Summaries yields a summary per campaign in id order. The sequence is
// evaluated lazily on each iteration, so it can be ranged over repeatedly.
func (r *Registry) Summaries() iter.Seq[Summary] {
	return func(yield func(Summary) bool) {
		for _, id := range r.IDs() {
			c, ok := r.Get(id)
			if !ok {
				continue
			}
			if !yield(c.summary()) {
				return
			}
		}
	}
}

// Summary returns the summary of one campaign.
func (r *Registry) Summary(id string) (Summary, bool) {
	c, ok := r.Get(id)
	if !ok {
		return Summary{}, false
	}
	return c.summary(), true
}

func (r *Registry) with(id string, fn func(c *Campaign)) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
	return true
}

// SetState moves a campaign to s. Stopped is terminal.
func (r *Registry) SetState(id string, s State) bool {
	changed := false
	r.with(id, func(c *Campaign) {
		if c.state == StateStopped || c.state == s {
			return
		}
		c.state = s
		changed = true
	})
	return changed
}

// State returns the lifecycle state of id.
func (r *Registry) State(id string) (State, bool) {
	var s State
	ok := r.with(id, func(c *Campaign) { s = c.state })
	return s, ok
}

// SetSymbols records the resolved instrument universe.
func (r *Registry) SetSymbols(id string, symbols []string) bool {
	return r.with(id, func(c *Campaign) { c.symbols = slices.Clone(symbols) })
}

// Symbols returns a copy of the campaign's instrument universe.
func (r *Registry) Symbols(id string) []string {
	var out []string
	r.with(id, func(c *Campaign) { out = slices.Clone(c.symbols) })
	return out
}

// RecordReconnect counts a stream reconnect.
func (r *Registry) RecordReconnect(id string) {
	r.with(id, func(c *Campaign) { c.reconnects++ })
}

// RecordSignal stores ts as the last handled signal for the instrument. It
// returns false if a signal at ts or later was already recorded.
func (r *Registry) RecordSignal(id, instID string, ts int64) bool {
	accepted := false
	r.with(id, func(c *Campaign) {
		if last, ok := c.lastSignal[instID]; ok && ts <= last {
			return
		}
		c.lastSignal[instID] = ts
		accepted = true
	})
	return accepted
}

// LastSignal returns the last handled signal timestamp for the instrument.
func (r *Registry) LastSignal(id, instID string) (int64, bool) {
	var (
		ts    int64
		found bool
	)
	r.with(id, func(c *Campaign) { ts, found = c.lastSignal[instID] })
	return ts, found
}

// BeginAction claims the in-flight latch for an instrument. It returns false
// when another open/close action is already running.
func (r *Registry) BeginAction(id, instID string) bool {
	claimed := false
	r.with(id, func(c *Campaign) {
		if c.inFlight[instID] {
			return
		}
		c.inFlight[instID] = true
		claimed = true
	})
	return claimed
}

// EndAction releases the in-flight latch.
func (r *Registry) EndAction(id, instID string) {
	r.with(id, func(c *Campaign) { delete(c.inFlight, instID) })
}

// Position returns the cached position for the instrument.
func (r *Registry) Position(id, instID string) (common.Position, bool) {
	var (
		p     common.Position
		found bool
	)
	r.with(id, func(c *Campaign) { p, found = c.positions[instID] })
	return p, found
}

// HasPositions reports whether any cached position exists.
func (r *Registry) HasPositions(id string) bool {
	n := 0
	r.with(id, func(c *Campaign) { n = len(c.positions) })
	return n > 0
}

// ClearPosition drops the cached position and its trailing latch.
func (r *Registry) ClearPosition(id, instID string) {
	r.with(id, func(c *Campaign) {
		delete(c.positions, instID)
		delete(c.armed, instID)
	})
}

// ReplacePositions swaps the cache for fresh exchange data, keeping only the
// campaign's instruments. A trailing latch survives while its instrument
// still holds a position on the same side.
func (r *Registry) ReplacePositions(id string, positions []common.Position) {
	r.with(id, func(c *Campaign) {
		next := make(map[string]common.Position, len(positions))
		for _, p := range positions {
			if !slices.Contains(c.symbols, p.InstID) {
				continue
			}
			if cur, ok := next[p.InstID]; ok && cur.UpdatedAt >= p.UpdatedAt {
				continue
			}
			next[p.InstID] = p
		}
		for inst := range c.armed {
			if !sameSide(c.positions, next, inst) {
				delete(c.armed, inst)
			}
		}
		c.positions = next
	})
}

// SyncPosition refreshes one instrument's cached position from fresh exchange
// data and returns what is cached afterwards. Other instruments are untouched.
func (r *Registry) SyncPosition(id, instID string, positions []common.Position) (common.Position, bool) {
	var (
		cached common.Position
		found  bool
	)
	r.with(id, func(c *Campaign) {
		next := make(map[string]common.Position, 1)
		for _, p := range positions {
			if p.InstID != instID {
				continue
			}
			if cur, ok := next[instID]; ok && cur.UpdatedAt >= p.UpdatedAt {
				continue
			}
			next[instID] = p
		}
		if !sameSide(c.positions, next, instID) {
			delete(c.armed, instID)
		}
		cached, found = next[instID]
		if found {
			c.positions[instID] = cached
		} else {
			delete(c.positions, instID)
		}
	})
	return cached, found
}

func sameSide(old, next map[string]common.Position, inst string) bool {
	o, hadOld := old[inst]
	n, hasNew := next[inst]
	return hadOld && hasNew && o.PosSide == n.PosSide
}

// ArmTrailing sets the one-shot trailing latch for an open position. It
// returns true only for the caller that flipped the latch.
func (r *Registry) ArmTrailing(id, instID string) bool {
	armed := false
	r.with(id, func(c *Campaign) {
		if _, open := c.positions[instID]; !open || c.armed[instID] {
			return
		}
		c.armed[instID] = true
		armed = true
	})
	return armed
}

// TrailingArmed reports the latch state.
func (r *Registry) TrailingArmed(id, instID string) bool {
	armed := false
	r.with(id, func(c *Campaign) { armed = c.armed[instID] })
	return armed
}

// SetWindow replaces the instrument's candle window with a fresh snapshot.
func (r *Registry) SetWindow(id, instID string, candles []common.Candle) {
	r.with(id, func(c *Campaign) {
		if w := NewWindow(candles); w != nil {
			c.windows[instID] = w
		}
	})
}

// ApplyTick folds a tick into the working candle and returns a copy of the
// updated window. ok is false when no window is known for the instrument.
func (r *Registry) ApplyTick(id, instID string, price float64) ([]common.Candle, bool) {
	var out []common.Candle
	r.with(id, func(c *Campaign) {
		w, ok := c.windows[instID]
		if !ok {
			return
		}
		w.Apply(price)
		out = w.Snapshot()
	})
	return out, out != nil
}

// ClaimTickStream marks the tick stream as running. It returns false if one
// is already running.
func (r *Registry) ClaimTickStream(id string) bool {
	claimed := false
	r.with(id, func(c *Campaign) {
		if c.tickStream {
			return
		}
		c.tickStream = true
		claimed = true
	})
	return claimed
}

// ReleaseTickStream clears the tick stream flag.
func (r *Registry) ReleaseTickStream(id string) {
	r.with(id, func(c *Campaign) { c.tickStream = false })
}

// TickStreamActive reports whether a tick stream is running.
func (r *Registry) TickStreamActive(id string) bool {
	active := false
	r.with(id, func(c *Campaign) { active = c.tickStream })
	return active
}
