package market

import (
	"time"

	"github.com/jpillora/backoff"
)

// ReconnectPolicy bounds how a dropped stream is re-established. The first
// retry after an outage is immediate; later ones back off exponentially.
type ReconnectPolicy struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
	// MaxAttempts caps retries per outage. Zero retries forever.
	MaxAttempts int
}

// DefaultReconnectPolicy retries forever, backing off from 500ms up to 30s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

// Retrier tracks one outage.
type Retrier struct {
	policy   ReconnectPolicy
	b        *backoff.Backoff
	attempts int
}

// NewRetrier starts a fresh attempt counter for p.
func (p ReconnectPolicy) NewRetrier() *Retrier {
	return &Retrier{
		policy: p,
		b: &backoff.Backoff{
			Min:    p.Min,
			Max:    p.Max,
			Factor: p.Factor,
			Jitter: p.Jitter,
		},
	}
}

// Next returns the wait before the next attempt. ok is false once
// MaxAttempts retries have been used.
func (r *Retrier) Next() (wait time.Duration, ok bool) {
	if r.policy.MaxAttempts > 0 && r.attempts >= r.policy.MaxAttempts {
		return 0, false
	}
	r.attempts++
	if r.attempts == 1 {
		return 0, true
	}
	return r.b.Duration(), true
}

// Reset clears the counter after a successful subscribe.
func (r *Retrier) Reset() {
	r.attempts = 0
	r.b.Reset()
}

// Attempts is the number of retries taken in the current outage.
func (r *Retrier) Attempts() int { return r.attempts }
