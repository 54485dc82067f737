// Package events carries the durable triggers that chain pipeline stages.
// Each stage finishes by publishing the next stage's trigger, so a crash
// between stages loses no work: the trigger outlives the process that
// published it.
package events

import (
	"context"
	"time"
)

// Stage names the two major phases of a job.
type Stage string

const (
	// StageTranscribe runs the transcription stage.
	StageTranscribe Stage = "transcribe"
	// StageAnalyze runs the consolidated analysis stage.
	StageAnalyze Stage = "analyze"
)

// Trigger asks the orchestrator to run one stage of one job.
type Trigger struct {
	JobID      string    `json:"job_id"`
	Stage      Stage     `json:"stage"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler processes one trigger. Delivery is at-least-once; handlers must
// tolerate re-delivery (every pipeline step is idempotent for this reason).
type Handler func(ctx context.Context, t Trigger)

// Bus transports stage triggers between pipeline stages.
type Bus interface {
	// Publish enqueues a trigger for delivery.
	Publish(ctx context.Context, t Trigger) error

	// Run delivers triggers to handler until ctx is cancelled.
	Run(ctx context.Context, handler Handler) error
}
