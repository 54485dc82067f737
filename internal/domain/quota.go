package domain

import "time"

// ResourceKind identifies a quota-metered resource.
type ResourceKind string

const (
	// ResourceDocuments counts submitted document jobs.
	ResourceDocuments ResourceKind = "documents"
	// ResourceAudioMinutes counts transcribed audio minutes.
	ResourceAudioMinutes ResourceKind = "audio-minutes"
)

// QuotaCounter is the per-owner allowance for one resource kind. Counters
// are created lazily; resets are driven by a scheduler outside this core,
// which zeroes Used and advances ResetAt.
type QuotaCounter struct {
	OwnerID  string       `json:"owner_id"`
	Resource ResourceKind `json:"resource"`
	Used     int64        `json:"used"`
	Limit    int64        `json:"limit"`
	ResetAt  time.Time    `json:"reset_at"`
}

// Remaining returns the unused allowance, never negative.
func (c QuotaCounter) Remaining() int64 {
	if c.Used >= c.Limit {
		return 0
	}
	return c.Limit - c.Used
}

// UsageEvent is an append-only record of one billable action.
type UsageEvent struct {
	OwnerID   string       `json:"owner_id"`
	EventKind ResourceKind `json:"event_kind"`
	Cost      int64        `json:"cost"`
	Timestamp time.Time    `json:"timestamp"`
}
