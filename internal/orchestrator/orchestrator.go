// Package orchestrator runs pipeline stages in response to trigger bus
// messages. Stages are lists of named idempotent steps, so at-least-once
// trigger delivery and crash replays converge on the same job state.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/skillsenselab/scribeflow/internal/analysis"
	"github.com/skillsenselab/scribeflow/internal/domain"
	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/events"
	"github.com/skillsenselab/scribeflow/internal/jobstore"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/metrics"
	"github.com/skillsenselab/scribeflow/internal/quota"
	"github.com/skillsenselab/scribeflow/internal/resilience"
	"github.com/skillsenselab/scribeflow/internal/storage"
	"github.com/skillsenselab/scribeflow/internal/transcription"
)

const defaultTranscribeConcurrency = 5

// Metadata keys written at submission and read by the stages.
const (
	MetaPayloadBytes    = "payload_bytes"
	MetaSpeakerLabels   = "speaker_labels"
	MetaSubtitleFormats = "subtitle_formats"
	MetaVerbosity       = "summary_verbosity"
)

// Metadata keys written by the transcribe stage.
const (
	metaDetectedLanguage = "detected_language"
	metaDurationSeconds  = "duration_seconds"
)

// Config configures the orchestrator.
type Config struct {
	// TranscribeConcurrency bounds concurrent transcribe stage runs. The
	// analyze stage is cheap relative to transcription and is not bounded.
	TranscribeConcurrency int `yaml:"transcribe_concurrency" mapstructure:"transcribe_concurrency"`
	// Retry is the per-step retry policy.
	Retry resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// ApplyDefaults applies default values to orchestrator configuration.
func (c *Config) ApplyDefaults() {
	if c.TranscribeConcurrency <= 0 {
		c.TranscribeConcurrency = defaultTranscribeConcurrency
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
}

// Orchestrator executes the transcribe and analyze stages.
type Orchestrator struct {
	cfg     Config
	store   jobstore.Store
	router  *transcription.Router
	engine  *analysis.Engine
	blobs   *storage.BlobClient
	bus     events.Bus
	limiter *quota.Limiter
	metrics *metrics.Collector
	log     *logger.Logger

	sem chan struct{}
}

// New creates an orchestrator.
func New(
	cfg Config,
	store jobstore.Store,
	router *transcription.Router,
	engine *analysis.Engine,
	blobs *storage.BlobClient,
	bus events.Bus,
	limiter *quota.Limiter,
	collector *metrics.Collector,
	log *logger.Logger,
) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		router:  router,
		engine:  engine,
		blobs:   blobs,
		bus:     bus,
		limiter: limiter,
		metrics: collector,
		log:     log.WithComponent("orchestrator"),
		sem:     make(chan struct{}, cfg.TranscribeConcurrency),
	}
}

// Run consumes stage triggers until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.bus.Run(ctx, o.HandleTrigger)
}

// HandleTrigger runs one stage of one job. Failures never propagate out;
// a failed job is marked failed and the trigger is considered handled.
func (o *Orchestrator) HandleTrigger(ctx context.Context, t events.Trigger) {
	switch t.Stage {
	case events.StageTranscribe:
		o.runTranscribe(ctx, t.JobID)
	case events.StageAnalyze:
		o.runAnalyze(ctx, t.JobID)
	default:
		o.log.Warn("unknown stage in trigger", map[string]interface{}{
			logger.FieldJobID: t.JobID,
			logger.FieldStage: string(t.Stage),
		})
	}
}

func (o *Orchestrator) runTranscribe(ctx context.Context, jobID string) {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return
	}

	job, ok := o.loadJob(ctx, jobID, events.StageTranscribe)
	if !ok {
		return
	}
	// Re-delivered trigger for a job already past this stage. A job stuck
	// in transcribed means the previous run crashed somewhere after the
	// status transition, so finish its tail instead of dropping the work.
	if job.Status != domain.StatusPending && job.Status != domain.StatusProcessing {
		if job.Status == domain.StatusTranscribed {
			o.resumeTranscribed(ctx, job)
			return
		}
		o.log.Info("transcribe trigger for advanced job, skipping", map[string]interface{}{
			logger.FieldJobID: jobID,
			"status":          string(job.Status),
		})
		return
	}

	o.metrics.TranscriptionStarted()
	defer o.metrics.TranscriptionDone()
	started := time.Now()
	defer func() {
		o.metrics.StageObserved(string(events.StageTranscribe), time.Since(started).Seconds())
	}()

	log := o.log.WithFields(map[string]interface{}{
		logger.FieldJobID: jobID,
		logger.FieldStage: string(events.StageTranscribe),
	})

	var resp *transcription.Response

	// Usage is recorded only once the transcribed transition is durable,
	// keyed by job id so a redelivered trigger cannot bill twice. The
	// source blob outlives the provider call so a crash mid-stage can
	// still re-run it.
	steps := []step{
		{"checkSource", func(ctx context.Context) error {
			exists, err := o.blobs.StatBlob(ctx, job.SourceRef)
			if err != nil {
				return fmt.Errorf("stat source blob: %w", err)
			}
			if !exists {
				return apperrors.NotFound("source blob", job.SourceRef)
			}
			return nil
		}},
		{"markProcessing", func(ctx context.Context) error {
			return o.store.SetStatus(ctx, jobID, domain.StatusProcessing, "")
		}},
		{"callProvider", func(ctx context.Context) error {
			var err error
			resp, err = o.router.Transcribe(ctx, transcription.Request{
				AudioURI:      job.SourceRef,
				Language:      job.Language,
				SpeakerLabels: metaBool(job.Metadata, MetaSpeakerLabels),
				PayloadBytes:  metaInt64(job.Metadata, MetaPayloadBytes),
			})
			return err
		}},
		{"persistArtifacts", func(ctx context.Context) error {
			return o.persistTranscription(ctx, job, resp)
		}},
		{"markTranscribed", func(ctx context.Context) error {
			return o.store.SetStatus(ctx, jobID, domain.StatusTranscribed, "")
		}},
		{"recordUsage", func(ctx context.Context) error {
			minutes := audioMinutes(resp.DurationSeconds)
			return o.limiter.RecordUsageOnce(ctx, job.OwnerID, domain.ResourceAudioMinutes, minutes, jobID)
		}},
		{"deleteSourceBlob", func(ctx context.Context) error {
			if err := o.blobs.DeleteBlob(ctx, job.SourceRef); err != nil {
				log.Warn("source blob cleanup failed", map[string]interface{}{
					logger.FieldError: err.Error(),
				})
			}
			// Best effort only.
			return nil
		}},
		{"triggerAnalysis", func(ctx context.Context) error {
			return o.bus.Publish(ctx, events.Trigger{
				JobID:      jobID,
				Stage:      events.StageAnalyze,
				EnqueuedAt: time.Now().UTC(),
			})
		}},
	}

	o.runSteps(ctx, log, jobID, events.StageTranscribe, steps)
}

// resumeTranscribed finishes the post-transition tail of the transcribe
// stage for a redelivered trigger: usage (deduplicated by job id) and the
// analyze handoff. Both are idempotent, so running them again after a
// crash converges.
func (o *Orchestrator) resumeTranscribed(ctx context.Context, job *domain.Job) {
	o.log.Info("resuming transcribed job from redelivered trigger", map[string]interface{}{
		logger.FieldJobID: job.ID,
	})
	minutes := audioMinutes(metaFloat64(job.Metadata, metaDurationSeconds))
	if err := o.limiter.RecordUsageOnce(ctx, job.OwnerID, domain.ResourceAudioMinutes, minutes, job.ID); err != nil {
		o.log.Warn("usage recording on resume failed", map[string]interface{}{
			logger.FieldJobID: job.ID,
			logger.FieldError: err.Error(),
		})
	}
	if err := o.bus.Publish(ctx, events.Trigger{
		JobID:      job.ID,
		Stage:      events.StageAnalyze,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		o.log.Warn("analyze trigger on resume failed", map[string]interface{}{
			logger.FieldJobID: job.ID,
			logger.FieldError: err.Error(),
		})
	}
}

// audioMinutes converts a transcription duration to billable minutes,
// rounding up.
func audioMinutes(seconds float64) int64 {
	return int64(math.Ceil(seconds / 60))
}

func (o *Orchestrator) runAnalyze(ctx context.Context, jobID string) {
	job, ok := o.loadJob(ctx, jobID, events.StageAnalyze)
	if !ok {
		return
	}
	if job.Status.IsTerminal() {
		o.log.Info("analyze trigger for terminal job, skipping", map[string]interface{}{
			logger.FieldJobID: jobID,
			"status":          string(job.Status),
		})
		return
	}

	started := time.Now()
	defer func() {
		o.metrics.StageObserved(string(events.StageAnalyze), time.Since(started).Seconds())
	}()

	log := o.log.WithFields(map[string]interface{}{
		logger.FieldJobID: jobID,
		logger.FieldStage: string(events.StageAnalyze),
	})

	var (
		transcript []byte
		result     *analysis.Result
	)

	steps := []step{
		{"fetchTranscriptText", func(ctx context.Context) error {
			if job.Artifacts.TranscriptURI == "" {
				return fmt.Errorf("job %s has no transcript artifact", jobID)
			}
			var err error
			transcript, err = o.blobs.GetBlob(ctx, job.Artifacts.TranscriptURI)
			return err
		}},
		{"runConsolidatedAnalysis", func(ctx context.Context) error {
			var err error
			result, err = o.engine.Run(ctx, analysis.Request{
				Transcript: string(transcript),
				Language:   job.Language,
				Verbosity:  analysis.Verbosity(metaString(job.Metadata, MetaVerbosity)),
			})
			return err
		}},
		{"persistAnalysis", func(ctx context.Context) error {
			return o.persistAnalysis(ctx, job, result)
		}},
		{"markCompleted", func(ctx context.Context) error {
			return o.store.SetStatus(ctx, jobID, domain.StatusCompleted, "")
		}},
	}

	if o.runSteps(ctx, log, jobID, events.StageAnalyze, steps) {
		o.metrics.JobFinished(string(domain.StatusCompleted))
	}
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// runSteps executes the steps in order with per-step retry. Exhausting
// retries marks the job failed with the last error, except under shutdown:
// a cancelled run context abandons the stage without touching job state so
// the redelivered trigger can resume it. Returns true when all steps
// succeeded.
func (o *Orchestrator) runSteps(ctx context.Context, log *logger.Logger, jobID string, stage events.Stage, steps []step) bool {
	for _, s := range steps {
		cfg := o.cfg.Retry
		name := s.name
		cfg.RetryIf = func(err error) bool {
			return apperrors.IsRetryable(err) && resilience.DefaultRetryIf(err)
		}
		cfg.OnRetry = func(attempt int, err error, _ time.Duration) {
			o.metrics.StepRetried(string(stage), name)
			log.Warn("step retrying", map[string]interface{}{
				logger.FieldStep:  name,
				"attempt":         attempt,
				logger.FieldError: err.Error(),
			})
		}
		if err := resilience.RetryFunc(ctx, cfg, func() error { return s.fn(ctx) }); err != nil {
			if ctx.Err() != nil {
				log.Info("stage interrupted, leaving job for redelivery", map[string]interface{}{
					logger.FieldStep:  s.name,
					logger.FieldError: err.Error(),
				})
				return false
			}
			log.Error("step exhausted retries, failing job", map[string]interface{}{
				logger.FieldStep:  s.name,
				"code":            string(apperrors.CodeOf(err)),
				logger.FieldError: err.Error(),
			})
			o.markFailed(ctx, jobID, stage, s.name, err)
			return false
		}
	}
	return true
}

func (o *Orchestrator) markFailed(ctx context.Context, jobID string, stage events.Stage, stepName string, cause error) {
	failure := apperrors.StageFailed(string(stage), fmt.Errorf("%s: %w", stepName, cause))
	msg := failure.Error()
	if err := o.store.SetStatus(ctx, jobID, domain.StatusFailed, msg); err != nil {
		o.log.Error("could not mark job failed", map[string]interface{}{
			logger.FieldJobID: jobID,
			logger.FieldError: err.Error(),
		})
		return
	}
	o.metrics.JobFinished(string(domain.StatusFailed))
}

func (o *Orchestrator) loadJob(ctx context.Context, jobID string, stage events.Stage) (*domain.Job, bool) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		o.log.Error("trigger for unknown job", map[string]interface{}{
			logger.FieldJobID: jobID,
			logger.FieldStage: string(stage),
			logger.FieldError: err.Error(),
		})
		return nil, false
	}
	return job, true
}

func (o *Orchestrator) persistTranscription(ctx context.Context, job *domain.Job, resp *transcription.Response) error {
	transcriptURI, err := o.blobs.PutBlob(ctx, fmt.Sprintf("jobs/%s/transcript.txt", job.ID), []byte(resp.Text))
	if err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}

	subtitleURIs := map[string]string{}
	for _, format := range metaStrings(job.Metadata, MetaSubtitleFormats) {
		content, err := RenderSubtitles(format, resp.Segments)
		if err != nil {
			return err
		}
		uri, err := o.blobs.PutBlob(ctx, fmt.Sprintf("jobs/%s/subtitles.%s", job.ID, format), content)
		if err != nil {
			return fmt.Errorf("store %s subtitles: %w", format, err)
		}
		subtitleURIs[format] = uri
	}

	conflicts, err := o.store.MergeResults(ctx, job.ID, jobstore.Results{
		TranscriptURI: transcriptURI,
		SubtitleURIs:  subtitleURIs,
		Progress:      80,
		Metadata: map[string]any{
			metaDetectedLanguage: resp.Language,
			metaDurationSeconds:  resp.DurationSeconds,
		},
	})
	if err != nil {
		return err
	}
	o.logConflicts(job.ID, conflicts)
	return nil
}

// logConflicts records ignored artifact overwrite attempts. The store has
// already kept the original values.
func (o *Orchestrator) logConflicts(jobID string, conflicts []string) {
	for _, field := range conflicts {
		o.log.Warn("artifact conflict ignored", map[string]interface{}{
			logger.FieldJobID: jobID,
			logger.FieldError: apperrors.PersistenceConflict(field).Error(),
		})
	}
}

func (o *Orchestrator) persistAnalysis(ctx context.Context, job *domain.Job, result *analysis.Result) error {
	results := jobstore.Results{
		Progress: 95,
		Metadata: map[string]any{
			"tags":              result.Tags,
			"speakers":          result.Speakers,
			"analysis_skipped":  result.Skipped,
			"analysis_degraded": result.Degraded,
		},
	}
	if result.Degraded {
		results.Metadata["analysis_warning"] = apperrors.AnalysisDegraded(result.Warnings).Message
	}

	if !result.Skipped {
		summaryURI, err := o.blobs.PutBlob(ctx, fmt.Sprintf("jobs/%s/summary.txt", job.ID), []byte(result.Summary))
		if err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		report, err := speakersReport(result)
		if err != nil {
			return err
		}
		reportURI, err := o.blobs.PutBlob(ctx, fmt.Sprintf("jobs/%s/speakers.json", job.ID), report)
		if err != nil {
			return fmt.Errorf("store speakers report: %w", err)
		}
		results.SummaryURI = summaryURI
		results.SpeakersReportURI = reportURI
	}

	conflicts, err := o.store.MergeResults(ctx, job.ID, results)
	if err != nil {
		return err
	}
	o.logConflicts(job.ID, conflicts)
	return nil
}
