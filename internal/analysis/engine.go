package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/resilience"
)

const defaultMinTranscriptChars = 40

// EngineConfig configures the analysis engine.
type EngineConfig struct {
	// MinTranscriptChars is the transcript length below which analysis is
	// skipped entirely.
	MinTranscriptChars int `yaml:"min_transcript_chars" mapstructure:"min_transcript_chars"`
	// Verbosity is the default summary verbosity.
	Verbosity Verbosity `yaml:"verbosity" mapstructure:"verbosity"`
}

// ApplyDefaults applies default values to engine configuration.
func (c *EngineConfig) ApplyDefaults() {
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = defaultMinTranscriptChars
	}
	if c.Verbosity == "" {
		c.Verbosity = VerbosityShort
	}
}

// Engine runs consolidated analysis through a provider's shared circuit
// breaker and validates the payload field by field.
type Engine struct {
	cfg      EngineConfig
	provider Provider
	breakers *resilience.Breakers
	log      *logger.Logger
}

// NewEngine creates an analysis engine over the given provider.
func NewEngine(cfg EngineConfig, provider Provider, breakers *resilience.Breakers, log *logger.Logger) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		cfg:      cfg,
		provider: provider,
		breakers: breakers,
		log:      log.WithComponent("analysis.engine"),
	}
}

// Run analyzes a transcript. Short transcripts skip the provider call and
// return an empty, non-degraded result. Provider failures are returned to
// the caller; payload shape problems are absorbed into a degraded result.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Verbosity == "" {
		req.Verbosity = e.cfg.Verbosity
	}

	if len(strings.TrimSpace(req.Transcript)) < e.cfg.MinTranscriptChars {
		e.log.Info("transcript below analysis minimum, skipping", map[string]interface{}{
			"transcript_chars": len(req.Transcript),
			"minimum":          e.cfg.MinTranscriptChars,
		})
		return &Result{Speakers: []Speaker{}, Tags: []string{}, Skipped: true}, nil
	}

	var raw json.RawMessage
	err := e.breakers.Get(e.provider.Name()).Execute(func() error {
		var callErr error
		raw, callErr = e.provider.Analyze(ctx, req)
		return callErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, apperrors.ProviderUnavailable(e.provider.Name())
		}
		return nil, err
	}

	result := e.parse(raw)
	if result.Degraded {
		e.log.Warn("analysis payload degraded", map[string]interface{}{
			logger.FieldProvider: e.provider.Name(),
			logger.FieldError:    apperrors.AnalysisDegraded(result.Warnings).Error(),
		})
	}
	return result, nil
}

// rawPayload defers per-field decoding so one bad field cannot poison the
// others.
type rawPayload struct {
	Speakers json.RawMessage `json:"speakers"`
	Summary  json.RawMessage `json:"summary"`
	Tags     json.RawMessage `json:"tags"`
}

func (e *Engine) parse(raw json.RawMessage) *Result {
	result := &Result{
		Speakers: []Speaker{},
		Summary:  PlaceholderSummary,
		Tags:     []string{},
	}

	var payload rawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		result.Degraded = true
		result.Warnings = []string{"speakers", "summary", "tags"}
		return result
	}

	if !decodeField(payload.Speakers, &result.Speakers) {
		result.Speakers = []Speaker{}
		result.Warnings = append(result.Warnings, "speakers")
	}

	var summary string
	if decodeField(payload.Summary, &summary) && strings.TrimSpace(summary) != "" {
		result.Summary = summary
	} else {
		result.Warnings = append(result.Warnings, "summary")
	}

	if !decodeField(payload.Tags, &result.Tags) {
		result.Tags = []string{}
		result.Warnings = append(result.Warnings, "tags")
	}

	result.Degraded = len(result.Warnings) > 0
	return result
}

// decodeField reports whether the raw field was present, non-null and of
// the expected shape.
func decodeField(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
