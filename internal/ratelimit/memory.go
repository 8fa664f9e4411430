package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often idle keys are dropped from the in-memory log.
const sweepEvery = time.Minute

type window struct {
	hits   []time.Time
	window time.Duration
}

// Memory is a single-process sliding-window log. Counters vanish on restart and are not
// shared between instances.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]*window
	now       func() time.Time
	lastSweep time.Time
}

// NewMemory returns an empty in-memory limiter.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*window), now: time.Now}
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, policy Policy, key string) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	full := policy.Name + ":" + key
	w, ok := m.entries[full]
	if !ok {
		w = &window{window: policy.Window}
		m.entries[full] = w
	}
	w.hits = pruneBefore(w.hits, now.Add(-policy.Window))

	var d Decision
	if len(w.hits) >= policy.Limit {
		d = Decision{Allowed: false, RetryAfter: w.hits[0].Add(policy.Window).Sub(now)}
	} else {
		w.hits = append(w.hits, now)
		d = Decision{Allowed: true, Remaining: policy.Limit - len(w.hits)}
	}
	m.sweepLocked(now)
	return d, nil
}

// pruneBefore drops hits at or before cutoff. hits is sorted ascending.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

func (m *Memory) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	m.lastSweep = now
	for k, w := range m.entries {
		if len(w.hits) == 0 || !w.hits[len(w.hits)-1].After(now.Add(-w.window)) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
