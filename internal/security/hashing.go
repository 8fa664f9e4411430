package security

import (
	"context"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
//
// bcrypt is CPU-bound and deliberately slow, so every Hash and Verify call first
// takes a slot from a weighted semaphore; at most workers calls run at once and the
// rest wait (or give up when ctx is done).
type Hasher struct {
	Cost int
	pool *semaphore.Weighted
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31) and worker bound.
// workers <= 0 uses GOMAXPROCS.
func NewHasher(cost, workers int) *Hasher {
	if cost <= 0 {
		cost = 12
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{Cost: cost, pool: semaphore.NewWeighted(int64(workers))}
}

// Hash produces a bcrypt hash of password suitable for storage.
// Returns bcrypt.ErrPasswordTooLong for inputs over MaxPasswordBytes.
func (h *Hasher) Hash(ctx context.Context, password []byte) (string, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.pool.Release(1)
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches hash. The comparison is constant-time inside
// bcrypt. A malformed hash is a mismatch. The only error is ctx ending while waiting for a slot.
func (h *Hasher) Verify(ctx context.Context, password []byte, hash string) (bool, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.pool.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil, nil
}
