package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

type fakePusher struct {
	pushed [][]byte
	failOn string
}

func (f *fakePusher) Push(_ context.Context, value []byte) error {
	if string(value) == f.failOn {
		return errors.New("loki unavailable")
	}
	f.pushed = append(f.pushed, value)
	return nil
}

func TestRun_ForwardsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"type":"login_failed"}`)},
			{Offset: 2, Value: []byte(`bad`)},
			{Offset: 3, Value: []byte(`{"type":"device_mismatch"}`)},
		},
		cancel: cancel,
	}
	pusher := &fakePusher{failOn: "bad"}

	if err := New(reader, pusher, nil).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pusher.pushed) != 2 {
		t.Fatalf("pushed %d events, want 2", len(pusher.pushed))
	}
	if len(reader.committed) != 3 {
		t.Errorf("committed = %v, want all three offsets", reader.committed)
	}
}

func TestRun_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &fakeReader{cancel: func() {}}
	if err := New(reader, &fakePusher{}, nil).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
