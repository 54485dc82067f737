// Package status serves batch job status lookups for polling clients.
package status

import (
	"context"
	"time"

	"github.com/skillsenselab/scribeflow/internal/domain"
	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/jobstore"
)

const (
	// MaxBatchSize caps the number of job ids per request.
	MaxBatchSize = 50

	// Poll intervals recommended to clients. Active jobs poll fast;
	// all-terminal batches can back off.
	pollActive  = 3 * time.Second
	pollSettled = 10 * time.Second
)

// JobStatus is one job's entry in a batch response.
type JobStatus struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	ProgressPercent int              `json:"progress_percent"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Artifacts       domain.Artifacts `json:"artifacts"`
}

// BatchResponse is the result of a batch status lookup. Jobs preserves the
// request order; ids the owner cannot see are omitted without error.
type BatchResponse struct {
	Jobs                []JobStatus `json:"jobs"`
	PollIntervalSeconds int         `json:"poll_interval_seconds"`
}

// Service answers batch status queries against the job store.
type Service struct {
	store jobstore.Store
}

// NewService creates a batch status service.
func NewService(store jobstore.Store) *Service {
	return &Service{store: store}
}

// GetStatuses resolves up to MaxBatchSize job ids for owner. Non-owned and
// unknown ids are silently dropped so callers cannot probe for foreign job
// ids. The poll interval hint is short while any returned job is still
// moving.
func (s *Service) GetStatuses(ctx context.Context, owner string, jobIDs []string) (*BatchResponse, error) {
	if len(jobIDs) == 0 {
		return nil, apperrors.Validation("at least one job id is required")
	}
	if len(jobIDs) > MaxBatchSize {
		return nil, apperrors.Validation("too many job ids").
			WithDetail("max", MaxBatchSize).
			WithDetail("got", len(jobIDs))
	}

	jobs, err := s.store.ListByIDs(ctx, owner, jobIDs)
	if err != nil {
		return nil, err
	}

	resp := &BatchResponse{
		Jobs:                make([]JobStatus, 0, len(jobs)),
		PollIntervalSeconds: int(pollSettled.Seconds()),
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, JobStatus{
			JobID:           job.ID,
			Status:          job.Status,
			ProgressPercent: job.ProgressPercent,
			ErrorMessage:    job.ErrorMessage,
			Artifacts:       job.Artifacts,
		})
		if !job.Status.IsTerminal() {
			resp.PollIntervalSeconds = int(pollActive.Seconds())
		}
	}
	return resp, nil
}
