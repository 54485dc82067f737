package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillsenselab/scribeflow/internal/domain"
	"github.com/skillsenselab/scribeflow/internal/logger"
)

// MemoryStore is an in-process Store guarded by a RWMutex. It is the
// default backing for single-instance deployments and tests; the Store
// interface lets a database-backed implementation replace it.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	log  *logger.Logger
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.Job),
		log:  log.WithComponent("jobstore"),
		now:  time.Now,
	}
}

// Create inserts a new job with status pending and progress 0.
func (s *MemoryStore) Create(_ context.Context, owner, filename, sourceRef, language string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Filename:  filename,
		SourceRef: sourceRef,
		Language:  language,
		Status:    domain.StatusPending,
		CreatedAt: s.now().UTC(),
		Metadata:  make(map[string]any),
	}
	s.jobs[job.ID] = job

	s.log.Info("job created", map[string]interface{}{
		logger.FieldJobID:   job.ID,
		logger.FieldOwnerID: owner,
		"filename":          filename,
	})
	return job.Clone(), nil
}

// SetStatus applies a state machine transition.
func (s *MemoryStore) SetStatus(_ context.Context, jobID string, status domain.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	if job.Status == status {
		// Retry-safe re-execution: repeating a transition is not an error.
		return nil
	}
	if !job.Status.CanTransition(status) {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	switch status {
	case domain.StatusProcessing:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case domain.StatusCompleted:
		job.ProgressPercent = 100
		job.CompletedAt = &now
	case domain.StatusFailed:
		job.CompletedAt = &now
	}

	job.Status = status
	if errorMessage != "" {
		job.ErrorMessage = errorMessage
	}

	s.log.Info("job status changed", map[string]interface{}{
		logger.FieldJobID: jobID,
		"status":          string(status),
	})
	return nil
}

// MergeResults merges partial results into the job.
func (s *MemoryStore) MergeResults(_ context.Context, jobID string, results Results) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}

	var conflicts []string

	setOnce := func(field string, current *string, next string) {
		if next == "" {
			return
		}
		if *current == "" {
			*current = next
			return
		}
		if *current != next {
			conflicts = append(conflicts, field)
			s.log.Warn("artifact overwrite ignored", map[string]interface{}{
				logger.FieldJobID: jobID,
				"field":           field,
			})
		}
	}

	setOnce("transcript_uri", &job.Artifacts.TranscriptURI, results.TranscriptURI)
	setOnce("summary_uri", &job.Artifacts.SummaryURI, results.SummaryURI)
	setOnce("speakers_report_uri", &job.Artifacts.SpeakersReportURI, results.SpeakersReportURI)

	for format, uri := range results.SubtitleURIs {
		if job.Artifacts.SubtitleURIs == nil {
			job.Artifacts.SubtitleURIs = make(map[string]string)
		}
		existing := job.Artifacts.SubtitleURIs[format]
		if existing == "" {
			job.Artifacts.SubtitleURIs[format] = uri
		} else if existing != uri {
			conflicts = append(conflicts, "subtitle_uris."+format)
			s.log.Warn("artifact overwrite ignored", map[string]interface{}{
				logger.FieldJobID: jobID,
				"field":           "subtitle_uris." + format,
			})
		}
	}

	if results.Progress > job.ProgressPercent && !job.Status.IsTerminal() {
		job.ProgressPercent = results.Progress
	}

	if len(results.Metadata) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]any)
		}
		mergeInto(job.Metadata, results.Metadata)
	}

	return conflicts, nil
}

// mergeInto deep-merges src into dst; nested maps merge key by key, scalar
// values from src win.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

// Get returns a snapshot of the job.
func (s *MemoryStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// ListByIDs returns owner-filtered snapshots preserving the input order.
func (s *MemoryStore) ListByIDs(_ context.Context, owner string, ids []string) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, ok := s.jobs[id]
		if !ok || job.OwnerID != owner {
			continue
		}
		out = append(out, job.Clone())
	}
	return out, nil
}
