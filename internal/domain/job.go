// Package domain defines the core types shared by the transcription
// pipeline: jobs, quota counters, and usage events.
package domain

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// StatusPending means the job was accepted but no stage has started.
	StatusPending JobStatus = "pending"
	// StatusProcessing means the transcription stage is running.
	StatusProcessing JobStatus = "processing"
	// StatusTranscribed means transcription finished and analysis is queued.
	StatusTranscribed JobStatus = "transcribed"
	// StatusCompleted means all stages finished.
	StatusCompleted JobStatus = "completed"
	// StatusFailed means a stage exhausted its retries.
	StatusFailed JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders the forward progression of non-failed statuses.
func (s JobStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusTranscribed:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal edge.
// Forward moves along pending -> processing -> transcribed -> completed are
// allowed, as is failed from any non-terminal state. Same-status moves are
// legal no-ops so retried steps can re-apply their transition safely.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.rank() > s.rank() && next.rank() != -1
}

// Language values accepted on submission. LanguageAuto lets the provider
// detect the language.
const LanguageAuto = "auto"

// Artifacts holds references to pipeline outputs. Each URI is set at most
// once; an empty string means the artifact does not exist yet.
type Artifacts struct {
	TranscriptURI     string            `json:"transcript_uri,omitempty"`
	SubtitleURIs      map[string]string `json:"subtitle_uris,omitempty"`
	SummaryURI        string            `json:"summary_uri,omitempty"`
	SpeakersReportURI string            `json:"speakers_report_uri,omitempty"`
}

// Job tracks one submitted file through transcription and analysis.
type Job struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Filename string `json:"filename"`
	// SourceRef is the URI of the input bytes, owned by external storage.
	SourceRef string `json:"source_ref"`
	Language  string `json:"language"`

	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ErrorMessage    string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Artifacts Artifacts `json:"artifacts"`

	// Metadata is an open key/value map: requested actions, extracted tags,
	// detected speakers, analysis provenance. Updates merge, never replace.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing store-internal pointers.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Artifacts.SubtitleURIs != nil {
		cp.Artifacts.SubtitleURIs = make(map[string]string, len(j.Artifacts.SubtitleURIs))
		for k, v := range j.Artifacts.SubtitleURIs {
			cp.Artifacts.SubtitleURIs[k] = v
		}
	}
	if j.Metadata != nil {
		cp.Metadata = cloneMap(j.Metadata)
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
