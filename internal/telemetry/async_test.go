package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"study-planner/backend/internal/telemetry/domain"
)

// recordingEmitter implements EventEmitter for tests.
type recordingEmitter struct {
	mu      sync.Mutex
	events  []*domain.SecurityEvent
	emitErr error
	done    chan struct{}
}

func (m *recordingEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *recordingEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, domain.NewEvent(domain.EventLoginFailed))
	em := &recordingEmitter{}
	EmitAsync(em, nil)
	time.Sleep(20 * time.Millisecond)
	if em.count() != 0 {
		t.Error("nil event should not be emitted")
	}
}

func TestEmitAsync_Delivers(t *testing.T) {
	em := &recordingEmitter{done: make(chan struct{}, 1), emitErr: errors.New("sink down")}
	ev := domain.NewEvent(domain.EventDeviceMismatch)
	EmitAsync(em, ev)
	select {
	case <-em.done:
	case <-time.After(time.Second):
		t.Fatal("event not emitted")
	}
	if em.events[0] != ev {
		t.Error("emitted a different event")
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingEmitter{}
	failing := &recordingEmitter{emitErr: errors.New("kafka down")}
	m := Multi{ok, nil, failing}
	err := m.Emit(context.Background(), domain.NewEvent(domain.EventSessionsRevoked))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if ok.count() != 1 || failing.count() != 1 {
		t.Errorf("counts = %d, %d; want 1, 1", ok.count(), failing.count())
	}
}

func TestNewEvent(t *testing.T) {
	ev := domain.NewEvent(domain.EventRateLimited)
	if ev.ID == "" || ev.CreatedAt.IsZero() || ev.Type != domain.EventRateLimited {
		t.Errorf("unexpected event: %+v", ev)
	}
}
