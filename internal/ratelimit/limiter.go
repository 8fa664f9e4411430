// Package ratelimit counts requests per key in a rolling window. The Limiter interface is
// the same for the in-process and the Redis backend; the backend is chosen once at start-up.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is a named budget: at most Limit requests per key in any Window-long span.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Policies guarding the sensitive auth endpoints.
var (
	Registration  = Policy{Name: "register", Limit: 5, Window: time.Hour}
	Refresh       = Policy{Name: "refresh", Limit: 20, Window: time.Minute}
	Impersonation = Policy{Name: "impersonate", Limit: 5, Window: time.Hour}
	Login         = Policy{Name: "login", Limit: 10, Window: 15 * time.Minute}
)

// Decision is the outcome of one Allow call. RetryAfter is set only when denied.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter records a request for key under policy and reports whether it fits the budget.
// Denied requests are not recorded.
type Limiter interface {
	Allow(ctx context.Context, policy Policy, key string) (Decision, error)
}

var (
	// ErrRateLimited matches every *LimitedError via errors.Is.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable is returned by Check when the limiter's storage failed. Callers deny.
	ErrUnavailable = errors.New("rate limiter unavailable")
	// ErrInvalidPolicy is returned for a policy with a non-positive limit or window.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)

// LimitedError is returned by Check when the budget is exhausted.
type LimitedError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Policy, e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *LimitedError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1, for the Retry-After header.
func (e *LimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Check runs l.Allow and folds the result into an error. It fails closed: a storage error
// becomes ErrUnavailable, never an allow.
func Check(ctx context.Context, l Limiter, policy Policy, key string) error {
	if l == nil {
		return ErrUnavailable
	}
	d, err := l.Allow(ctx, policy, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !d.Allowed {
		return &LimitedError{Policy: policy.Name, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (p Policy) validate() error {
	if p.Limit <= 0 || p.Window <= 0 || p.Name == "" {
		return ErrInvalidPolicy
	}
	return nil
}
