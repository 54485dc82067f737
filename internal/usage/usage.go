// Package usage records append-only billing events. Events are written
// once per billable action and never mutated.
package usage

import (
	"context"
	"sync"

	"github.com/skillsenselab/scribeflow/internal/domain"
	"github.com/skillsenselab/scribeflow/internal/logger"
)

// Recorder appends usage events.
type Recorder interface {
	Record(ctx context.Context, event domain.UsageEvent)
}

// MemoryRecorder keeps events in memory. It backs tests and
// single-instance deployments; a billing-pipeline implementation can
// replace it behind the Recorder interface.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []domain.UsageEvent
	log    *logger.Logger
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder(log *logger.Logger) *MemoryRecorder {
	return &MemoryRecorder{log: log.WithComponent("usage")}
}

// Record appends one event.
func (r *MemoryRecorder) Record(_ context.Context, event domain.UsageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)

	r.log.Info("usage recorded", map[string]interface{}{
		logger.FieldOwnerID: event.OwnerID,
		"event_kind":        string(event.EventKind),
		"cost":              event.Cost,
	})
}

// Events returns a copy of all recorded events.
func (r *MemoryRecorder) Events() []domain.UsageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UsageEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ForOwner returns events recorded for one owner.
func (r *MemoryRecorder) ForOwner(owner string) []domain.UsageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UsageEvent
	for _, e := range r.events {
		if e.OwnerID == owner {
			out = append(out, e)
		}
	}
	return out
}
