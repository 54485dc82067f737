package events

import (
	"context"
	"time"
)

// MemoryBus is a channel-backed Bus for single-process deployments and
// tests. Triggers survive handler restarts within the process but not a
// process crash; the Kafka bus covers that.
type MemoryBus struct {
	ch chan Trigger
}

// NewMemoryBus creates a memory bus with the given buffer size.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBus{ch: make(chan Trigger, buffer)}
}

// Publish enqueues a trigger, blocking if the buffer is full.
func (b *MemoryBus) Publish(ctx context.Context, t Trigger) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	select {
	case b.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers triggers to handler until ctx is cancelled. Each trigger is
// handled in its own goroutine; the orchestrator bounds concurrency where
// it matters.
func (b *MemoryBus) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-b.ch:
			go handler(ctx, t)
		}
	}
}
