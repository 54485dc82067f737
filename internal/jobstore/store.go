// Package jobstore persists job records and enforces the job state machine.
// Status only moves forward (pending -> processing -> transcribed ->
// completed) or to failed from any non-terminal state; artifact references
// are set at most once; metadata updates merge, never replace.
package jobstore

import (
	"context"
	"errors"

	"github.com/skillsenselab/scribeflow/internal/domain"
)

// Store errors.
var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a status move the state machine
	// does not allow (e.g. completed -> processing).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Results is a partial update applied by MergeResults. Zero-valued fields
// are left untouched; artifact URIs are set-once; Metadata deep-merges.
type Results struct {
	TranscriptURI     string
	SubtitleURIs      map[string]string
	SummaryURI        string
	SpeakersReportURI string
	Progress          int
	Metadata          map[string]any
}

// Store is the persistence boundary for job records. Implementations must
// provide atomic read-modify-write semantics per job.
type Store interface {
	// Create inserts a new job with status pending and progress 0.
	Create(ctx context.Context, owner, filename, sourceRef, language string) (*domain.Job, error)

	// SetStatus applies a state machine transition. A request equal to the
	// current status is a no-op (retry-safe); a backward move returns
	// ErrInvalidTransition. errorMessage is recorded on failed.
	SetStatus(ctx context.Context, jobID string, status domain.JobStatus, errorMessage string) error

	// MergeResults merges partial results into the job. Attempts to
	// overwrite a non-empty artifact URI with a different value are
	// reported back as conflicts and otherwise ignored. Progress below the
	// current value is ignored (monotone while non-terminal).
	MergeResults(ctx context.Context, jobID string, results Results) ([]string, error)

	// Get returns a snapshot of the job, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// ListByIDs returns snapshots of the requested jobs owned by owner,
	// preserving the input order and silently dropping the rest.
	ListByIDs(ctx context.Context, owner string, ids []string) ([]*domain.Job, error)
}
