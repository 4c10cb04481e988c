package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/screen-tutor/internal/config"
	"golang.org/x/time/rate"
)

// idleTTL is how long an unused client limiter is kept
const idleTTL = time.Hour

// Limiter applies a token bucket per client key
type Limiter struct {
	config  config.RateLimitConfig
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a new per-client rate limiter
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client is allowed
func (l *Limiter) Allow(client string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.get(client).Allow()
}

func (l *Limiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if c, ok := l.clients[client]; ok {
		c.lastSeen = now
		return c.limiter
	}

	burst := l.config.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(float64(l.config.RequestsPerMin)/60.0), burst),
		lastSeen: now,
	}
	l.clients[client] = c
	return c.limiter
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Cleanup removes limiters not used within the idle window
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleTTL)
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup periodically until ctx is done
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
