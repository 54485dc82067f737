// Package analysis runs consolidated post-transcription analysis. A single
// provider call returns speakers, summary and tags in one JSON payload;
// each field is validated independently so one malformed field degrades
// that field only instead of failing the job.
package analysis

import (
	"context"
	"encoding/json"
)

// Verbosity controls summary length.
type Verbosity string

const (
	// VerbosityShort requests a few-sentence summary.
	VerbosityShort Verbosity = "short"
	// VerbosityDetailed requests a sectioned long-form summary.
	VerbosityDetailed Verbosity = "detailed"
)

// PlaceholderSummary substitutes a missing or malformed summary field.
const PlaceholderSummary = "Summary unavailable."

// Speaker is one identified participant.
type Speaker struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Request is the input to a consolidated analysis run.
type Request struct {
	Transcript string
	Language   string
	Verbosity  Verbosity
}

// Result is the validated output of a consolidated analysis run. Degraded
// is set when any field was replaced by its safe default; Warnings names
// the replaced fields.
type Result struct {
	Speakers []Speaker `json:"speakers"`
	Summary  string    `json:"summary"`
	Tags     []string  `json:"tags"`

	Skipped  bool     `json:"-"`
	Degraded bool     `json:"-"`
	Warnings []string `json:"-"`
}

// Provider produces the raw consolidated analysis payload.
type Provider interface {
	// Name returns the provider's registered name.
	Name() string
	// IsAvailable reports whether the backend is reachable.
	IsAvailable(ctx context.Context) bool
	// Analyze returns the raw JSON payload for the transcript. The engine
	// owns parsing and validation.
	Analyze(ctx context.Context, req Request) (json.RawMessage, error)
}
