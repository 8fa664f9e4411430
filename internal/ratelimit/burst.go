package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Burst is a coarse per-client token bucket placed in front of every auth route.
// It is independent of the policy limiters and lives in process memory only.
type Burst struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	mu      sync.Mutex
	clients map[string]*burstClient
}

type burstClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewBurst returns a throttle allowing requestsPerMinute per client, or nil when
// requestsPerMinute <= 0. A nil *Burst allows everything.
func NewBurst(requestsPerMinute int) *Burst {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Burst{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		idle:    5 * time.Minute,
		clients: make(map[string]*burstClient),
	}
}

// Allow reports whether client may make a request now.
func (b *Burst) Allow(client string) bool {
	if b == nil {
		return true
	}
	now := time.Now()
	b.mu.Lock()
	c, ok := b.clients[client]
	if !ok {
		b.cleanupLocked(now)
		c = &burstClient{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.clients[client] = c
	}
	c.lastSeen = now
	b.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

func (b *Burst) cleanupLocked(now time.Time) {
	for key, c := range b.clients {
		if now.Sub(c.lastSeen) > b.idle {
			delete(b.clients, key)
		}
	}
}
