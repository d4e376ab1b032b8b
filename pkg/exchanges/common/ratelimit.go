package common

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound REST calls per endpoint prefix. Endpoints
// without a dedicated rule share the default limiter.
type RateLimiter struct {
	mu       sync.RWMutex
	rules    map[string]*rate.Limiter
	fallback *rate.Limiter
}

// NewRateLimiter creates a limiter whose default bucket allows perSecond
// requests with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		rules:    make(map[string]*rate.Limiter),
		fallback: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// SetRule installs a dedicated bucket for every endpoint starting with prefix.
func (rl *RateLimiter) SetRule(prefix string, perSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rules[prefix] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Wait blocks until a request to endpoint may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	return rl.limiter(endpoint).Wait(ctx)
}

func (rl *RateLimiter) limiter(endpoint string) *rate.Limiter {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	best := ""
	var l *rate.Limiter
	for prefix, lim := range rl.rules {
		if strings.HasPrefix(endpoint, prefix) && len(prefix) > len(best) {
			best, l = prefix, lim
		}
	}
	if l == nil {
		return rl.fallback
	}
	return l
}
