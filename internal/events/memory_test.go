package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryBus_DeliversPublishedTriggers(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Trigger
	done := make(chan struct{})

	go func() {
		_ = bus.Run(ctx, func(_ context.Context, tr Trigger) {
			mu.Lock()
			got = append(got, tr)
			if len(got) == 2 {
				close(done)
			}
			mu.Unlock()
		})
	}()

	_ = bus.Publish(ctx, Trigger{JobID: "job-1", Stage: StageTranscribe})
	_ = bus.Publish(ctx, Trigger{JobID: "job-1", Stage: StageAnalyze})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("triggers were not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Stage != StageTranscribe || got[1].Stage != StageAnalyze {
		t.Errorf("unexpected delivery: %v", got)
	}
	if got[0].EnqueuedAt.IsZero() {
		t.Error("expected enqueue timestamp stamped on publish")
	}
}

func TestMemoryBus_PublishRespectsContext(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()

	// Fill the buffer with no consumer running.
	_ = bus.Publish(ctx, Trigger{JobID: "a", Stage: StageTranscribe})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := bus.Publish(cancelled, Trigger{JobID: "b", Stage: StageTranscribe}); err == nil {
		t.Error("expected context error on full buffer with cancelled context")
	}
}
