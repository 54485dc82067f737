// Package quota enforces per-owner resource allowances (documents and
// audio-minutes) and protects submission endpoints with a short-window
// rate limiter. Counters live in a CounterStore with atomic
// read-modify-write semantics so enforcement holds across multiple
// orchestrator instances.
package quota

import (
	"context"
	"time"

	"github.com/skillsenselab/scribeflow/internal/domain"
	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/usage"
)

// Defaults holds the limits applied when a counter is created lazily.
// Billing/subscription events adjust limits afterwards via SetLimit.
type Defaults struct {
	DocumentsLimit    int64         `yaml:"documents_limit" mapstructure:"documents_limit"`
	AudioMinutesLimit int64         `yaml:"audio_minutes_limit" mapstructure:"audio_minutes_limit"`
	Period            time.Duration `yaml:"period" mapstructure:"period"`
}

// ApplyDefaults applies default values to quota configuration.
func (d *Defaults) ApplyDefaults() {
	if d.DocumentsLimit <= 0 {
		d.DocumentsLimit = 100
	}
	if d.AudioMinutesLimit <= 0 {
		d.AudioMinutesLimit = 600
	}
	if d.Period <= 0 {
		d.Period = 30 * 24 * time.Hour
	}
}

// LimitFor returns the default limit for a resource kind.
func (d Defaults) LimitFor(kind domain.ResourceKind) int64 {
	if kind == domain.ResourceAudioMinutes {
		return d.AudioMinutesLimit
	}
	return d.DocumentsLimit
}

// CounterStore persists quota counters. Implementations must make
// IncrementUsed an atomic read-modify-write.
type CounterStore interface {
	// Get returns the counter for owner/kind, creating it lazily with the
	// configured defaults.
	Get(ctx context.Context, owner string, kind domain.ResourceKind) (domain.QuotaCounter, error)

	// IncrementUsed atomically adds amount to the counter's used value.
	IncrementUsed(ctx context.Context, owner string, kind domain.ResourceKind, amount int64) error

	// IncrementUsedOnce adds amount like IncrementUsed, but keyed by an
	// idempotency token. A token that was already claimed is a no-op and
	// returns false, so redelivered work cannot double-count.
	IncrementUsedOnce(ctx context.Context, owner string, kind domain.ResourceKind, amount int64, token string) (bool, error)

	// SetLimit adjusts the counter's limit (driven by external billing
	// events, consumed at this boundary).
	SetLimit(ctx context.Context, owner string, kind domain.ResourceKind, limit int64) error

	// Reset zeroes used and advances resetAt. Invoked by a scheduler
	// external to this core.
	Reset(ctx context.Context, owner string, kind domain.ResourceKind) error
}

// Limiter performs pre-flight admission control and post-success usage
// accounting over a CounterStore.
type Limiter struct {
	store    CounterStore
	recorder usage.Recorder
	log      *logger.Logger
}

// NewLimiter creates a quota limiter.
func NewLimiter(store CounterStore, recorder usage.Recorder, log *logger.Logger) *Limiter {
	return &Limiter{
		store:    store,
		recorder: recorder,
		log:      log.WithComponent("quota"),
	}
}

// CheckAdmission is called before job creation. When used >= limit it
// returns a typed QuotaExceeded error carrying limit/used/remaining/resetAt
// and the caller must reject the request without creating a job.
func (l *Limiter) CheckAdmission(ctx context.Context, owner string, kind domain.ResourceKind) error {
	counter, err := l.store.Get(ctx, owner, kind)
	if err != nil {
		return apperrors.Internal(err)
	}

	if counter.Used >= counter.Limit {
		l.log.Warn("admission denied", map[string]interface{}{
			logger.FieldOwnerID: owner,
			"resource":          string(kind),
			"used":              counter.Used,
			"limit":             counter.Limit,
		})
		return apperrors.QuotaExceeded(counter.Limit, counter.Used, counter.ResetAt)
	}
	return nil
}

// RecordUsage is called only after the relevant stage succeeds, never on
// failure, so failed attempts do not consume quota. Each call also appends
// one usage event for billing.
func (l *Limiter) RecordUsage(ctx context.Context, owner string, kind domain.ResourceKind, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := l.store.IncrementUsed(ctx, owner, kind, amount); err != nil {
		return apperrors.Internal(err)
	}

	l.recorder.Record(ctx, domain.UsageEvent{
		OwnerID:   owner,
		EventKind: kind,
		Cost:      amount,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// RecordUsageOnce records usage keyed by an idempotency token, typically
// the job id. Redelivered pipeline work calls this with the same token and
// only the first call bills; the rest are no-ops.
func (l *Limiter) RecordUsageOnce(ctx context.Context, owner string, kind domain.ResourceKind, amount int64, token string) error {
	if amount <= 0 {
		return nil
	}
	claimed, err := l.store.IncrementUsedOnce(ctx, owner, kind, amount, token)
	if err != nil {
		return apperrors.Internal(err)
	}
	if !claimed {
		l.log.Info("usage token already recorded, skipping", map[string]interface{}{
			logger.FieldOwnerID: owner,
			"resource":          string(kind),
			"token":             token,
		})
		return nil
	}

	l.recorder.Record(ctx, domain.UsageEvent{
		OwnerID:   owner,
		EventKind: kind,
		Cost:      amount,
		Timestamp: time.Now().UTC(),
	})
	return nil
}
