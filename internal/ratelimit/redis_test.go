package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr, client
}

func TestRedis_ImpersonationBudget(t *testing.T) {
	r, _, _ := newTestRedis(t)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < Impersonation.Limit; i++ {
		d, err := r.Allow(ctx, Impersonation, "admin:a1")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("Allow #%d denied", i+1)
		}
		now = now.Add(10 * time.Minute)
	}
	d, err := r.Allow(ctx, Impersonation, "admin:a1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th impersonation within the hour should be denied")
	}
	// Hits at 0,10,20,30,40 min; now = 50 min; first hit leaves at 60 min.
	if d.RetryAfter != 10*time.Minute {
		t.Errorf("RetryAfter = %v, want 10m", d.RetryAfter)
	}

	now = now.Add(10 * time.Minute)
	if d, _ := r.Allow(ctx, Impersonation, "admin:a1"); !d.Allowed {
		t.Fatal("should be allowed once the oldest hit left the window")
	}
	if d, _ := r.Allow(ctx, Impersonation, "admin:a2"); !d.Allowed {
		t.Fatal("other admin has its own budget")
	}
}

func TestRedis_RemainingCountsDown(t *testing.T) {
	r, _, _ := newTestRedis(t)
	ctx := context.Background()
	p := Policy{Name: "t", Limit: 3, Window: time.Minute}
	for want := 2; want >= 0; want-- {
		d, err := r.Allow(ctx, p, "k")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if d.Remaining != want {
			t.Errorf("Remaining = %d, want %d", d.Remaining, want)
		}
	}
}

func TestRedis_SetsExpiry(t *testing.T) {
	r, mr, _ := newTestRedis(t)
	if _, err := r.Allow(context.Background(), Refresh, "1.2.3.4"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	ttl := mr.TTL("ratelimit:refresh:1.2.3.4")
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want (0, 1m]", ttl)
	}
}

func TestRedis_UnavailableFailsClosed(t *testing.T) {
	r, mr, _ := newTestRedis(t)
	mr.Close()
	err := Check(context.Background(), r, Refresh, "1.2.3.4")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
