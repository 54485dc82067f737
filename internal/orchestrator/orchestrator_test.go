package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
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
	"github.com/skillsenselab/scribeflow/internal/storage/local"
	"github.com/skillsenselab/scribeflow/internal/transcription"
	"github.com/skillsenselab/scribeflow/internal/usage"
)

type captureBus struct {
	mu        sync.Mutex
	published []events.Trigger
}

func (b *captureBus) Publish(_ context.Context, t events.Trigger) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, t)
	return nil
}

func (b *captureBus) Run(ctx context.Context, _ events.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *captureBus) triggers() []events.Trigger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Trigger(nil), b.published...)
}

type scriptedTranscriber struct {
	name  string
	resp  *transcription.Response
	errs  []error
	hook  func()
	calls int
}

func (s *scriptedTranscriber) Name() string { return s.name }
func (s *scriptedTranscriber) IsAvailable(ctx context.Context) bool { return true }
func (s *scriptedTranscriber) Transcribe(ctx context.Context, _ transcription.Request) (*transcription.Response, error) {
	s.calls++
	if s.hook != nil {
		s.hook()
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.resp, nil
}

type staticAnalyzer struct {
	payload string
	err     error
}

func (a *staticAnalyzer) Name() string { return "analyzer" }
func (a *staticAnalyzer) IsAvailable(ctx context.Context) bool { return true }
func (a *staticAnalyzer) Analyze(ctx context.Context, _ analysis.Request) (json.RawMessage, error) {
	if a.err != nil {
		return nil, a.err
	}
	return json.RawMessage(a.payload), nil
}

type harness struct {
	orch     *Orchestrator
	cfg      Config
	store    *jobstore.MemoryStore
	bus      *captureBus
	blobs    *storage.BlobClient
	recorder *usage.MemoryRecorder
	backend  *scriptedTranscriber
	analyzer *staticAnalyzer
	router   *transcription.Router
	engine   *analysis.Engine
	limiter  *quota.Limiter
	log      *logger.Logger
}

// orchestratorWith builds an orchestrator over the harness components with
// a substitute job store.
func (h *harness) orchestratorWith(store jobstore.Store) *Orchestrator {
	return New(h.cfg, store, h.router, h.engine, h.blobs, h.bus, h.limiter, metrics.NewNopCollector(), h.log)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewDefault("test")

	backend, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	blobs := storage.NewBlobClient(backend, "local")

	transcriber := &scriptedTranscriber{
		name: "whisper",
		resp: &transcription.Response{
			Text:            strings.Repeat("a detailed discussion between two people. ", 4),
			Language:        "en",
			DurationSeconds: 250,
			Segments: []transcription.Segment{
				{Start: 0, End: 2.5, Text: "Hello there."},
				{Start: 2.5, End: 5, Text: "Welcome back."},
			},
		},
	}
	breakers := resilience.NewBreakers(resilience.CircuitBreakerConfig{MaxFailures: 5, Cooldown: time.Minute})
	router := transcription.NewRouter(transcription.RouterConfig{
		Default:  "whisper",
		LongForm: "whisper",
	}, []transcription.Provider{transcriber}, breakers, log)

	analyzer := &staticAnalyzer{payload: `{
		"speakers": [{"name": "Alice", "role": "host"}],
		"summary": "Two people talk.",
		"tags": ["conversation"]
	}`}
	engine := analysis.NewEngine(analysis.EngineConfig{MinTranscriptChars: 10}, analyzer, breakers, log)

	store := jobstore.NewMemoryStore(log)
	recorder := usage.NewMemoryRecorder(log)
	limiter := quota.NewLimiter(quota.NewMemoryStore(quota.Defaults{}), recorder, log)
	bus := &captureBus{}

	cfg := Config{
		TranscribeConcurrency: 2,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2,
		},
	}

	h := &harness{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		blobs:    blobs,
		recorder: recorder,
		backend:  transcriber,
		analyzer: analyzer,
		router:   router,
		engine:   engine,
		limiter:  limiter,
		log:      log,
	}
	h.orch = h.orchestratorWith(store)
	return h
}

func (h *harness) submit(t *testing.T, meta map[string]any) *domain.Job {
	t.Helper()
	ctx := context.Background()
	uri, err := h.blobs.PutBlob(ctx, "uploads/standup.mp3", []byte("fake audio bytes"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	job, err := h.store.Create(ctx, "owner-1", "standup.mp3", uri, "en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if meta != nil {
		if _, err := h.store.MergeResults(ctx, job.ID, jobstore.Results{Metadata: meta}); err != nil {
			t.Fatalf("MergeResults: %v", err)
		}
	}
	job, err = h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func TestPipelineHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, map[string]any{
		MetaSubtitleFormats: []string{"srt", "vtt"},
	})

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	after, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != domain.StatusTranscribed {
		t.Fatalf("status = %s, want transcribed (error: %s)", after.Status, after.ErrorMessage)
	}
	if after.Artifacts.TranscriptURI == "" {
		t.Fatal("transcript artifact not set")
	}
	if len(after.Artifacts.SubtitleURIs) != 2 {
		t.Fatalf("subtitle artifacts = %v, want srt and vtt", after.Artifacts.SubtitleURIs)
	}

	triggers := h.bus.triggers()
	if len(triggers) != 1 || triggers[0].Stage != events.StageAnalyze {
		t.Fatalf("published triggers = %+v, want one analyze trigger", triggers)
	}

	h.orch.HandleTrigger(ctx, triggers[0])

	final, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", final.Status, final.ErrorMessage)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("progress = %d, want 100", final.ProgressPercent)
	}
	if final.Artifacts.SummaryURI == "" || final.Artifacts.SpeakersReportURI == "" {
		t.Fatalf("analysis artifacts missing: %+v", final.Artifacts)
	}
	if final.Metadata["analysis_degraded"] != false {
		t.Fatalf("analysis_degraded = %v, want false", final.Metadata["analysis_degraded"])
	}
}

func TestPipelineRecordsAudioMinutesOnSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, nil)

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	eventsFor := h.recorder.ForOwner("owner-1")
	if len(eventsFor) != 1 {
		t.Fatalf("usage events = %d, want 1", len(eventsFor))
	}
	// 250 seconds rounds up to 5 minutes.
	if eventsFor[0].EventKind != domain.ResourceAudioMinutes || eventsFor[0].Cost != 5 {
		t.Fatalf("usage event = %+v, want 5 audio-minutes", eventsFor[0])
	}
}

func TestPipelineRetriesTransientProviderError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, nil)
	h.backend.errs = []error{errors.New("transient"), errors.New("still transient")}

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	after, _ := h.store.Get(ctx, job.ID)
	if after.Status != domain.StatusTranscribed {
		t.Fatalf("status = %s, want transcribed after retries", after.Status)
	}
	if h.backend.calls != 3 {
		t.Fatalf("provider calls = %d, want 3", h.backend.calls)
	}
}

func TestPipelineExhaustedRetriesFailJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, nil)
	h.backend.errs = []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	after, _ := h.store.Get(ctx, job.ID)
	if after.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", after.Status)
	}
	if !strings.Contains(after.ErrorMessage, "callProvider") {
		t.Fatalf("error message %q does not name the failing step", after.ErrorMessage)
	}
	if !strings.Contains(after.ErrorMessage, string(apperrors.ErrCodeStageFailed)) {
		t.Fatalf("error message %q does not carry the stage failure code", after.ErrorMessage)
	}
	// No billable usage on failure.
	if got := len(h.recorder.ForOwner("owner-1")); got != 0 {
		t.Fatalf("usage events = %d, want 0", got)
	}
	if got := len(h.bus.triggers()); got != 0 {
		t.Fatalf("published triggers = %d, want none after failure", got)
	}
}

func TestPipelineTranscribeRedeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, nil)

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})
	calls := h.backend.calls

	// Re-delivered trigger must not call the provider or bill again; it
	// only replays the idempotent analyze handoff.
	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	if h.backend.calls != calls {
		t.Fatalf("provider calls = %d, want %d", h.backend.calls, calls)
	}
	if got := len(h.recorder.ForOwner("owner-1")); got != 1 {
		t.Fatalf("usage events = %d, want 1", got)
	}
	for _, trig := range h.bus.triggers() {
		if trig.Stage != events.StageAnalyze {
			t.Fatalf("unexpected %s trigger after redelivery", trig.Stage)
		}
	}
}

func TestPipelineNoUsageWhenTranscribedMarkFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, nil)

	orch := h.orchestratorWith(&transitionFailingStore{
		Store:      h.store,
		failStatus: domain.StatusTranscribed,
	})
	orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	after, _ := h.store.Get(ctx, job.ID)
	if after.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", after.Status)
	}
	if !strings.Contains(after.ErrorMessage, "markTranscribed") {
		t.Fatalf("error message %q does not name the failing step", after.ErrorMessage)
	}
	// The stage never reached the transcribed transition, so nothing may
	// be billed.
	if got := len(h.recorder.ForOwner("owner-1")); got != 0 {
		t.Fatalf("usage events = %d, want 0", got)
	}
}

func TestPipelineResumedTranscribedJobBillsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A job whose previous run crashed right after the transcribed
	// transition: artifacts and duration persisted, usage and the analyze
	// handoff still missing.
	job := h.submit(t, map[string]any{metaDurationSeconds: 250.0})
	if err := h.store.SetStatus(ctx, job.ID, domain.StatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := h.store.SetStatus(ctx, job.ID, domain.StatusTranscribed, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})
	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	if h.backend.calls != 0 {
		t.Fatalf("provider calls = %d, want 0 on resume", h.backend.calls)
	}
	eventsFor := h.recorder.ForOwner("owner-1")
	if len(eventsFor) != 1 || eventsFor[0].Cost != 5 {
		t.Fatalf("usage events = %+v, want one 5 audio-minute event", eventsFor)
	}
	triggers := h.bus.triggers()
	if len(triggers) == 0 || triggers[0].Stage != events.StageAnalyze {
		t.Fatalf("triggers = %+v, want analyze handoff replayed", triggers)
	}
}

func TestPipelineShutdownLeavesJobResumable(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.backend.hook = cancel
	h.backend.errs = []error{context.Canceled}

	h.orch.HandleTrigger(runCtx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	after, _ := h.store.Get(context.Background(), job.ID)
	if after.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want processing after interrupted stage", after.Status)
	}
	if got := len(h.recorder.ForOwner("owner-1")); got != 0 {
		t.Fatalf("usage events = %d, want 0 after interruption", got)
	}

	// The redelivered trigger resumes the stage on the restarted process.
	h.backend.hook = nil
	h.orch.HandleTrigger(context.Background(), events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	final, _ := h.store.Get(context.Background(), job.ID)
	if final.Status != domain.StatusTranscribed {
		t.Fatalf("status = %s, want transcribed after resume", final.Status)
	}
}

func TestPipelineMissingSourceFailsFast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job, err := h.store.Create(ctx, "owner-1", "gone.mp3", "local://uploads/gone.mp3", "en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})

	after, _ := h.store.Get(ctx, job.ID)
	if after.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", after.Status)
	}
	if !strings.Contains(after.ErrorMessage, "checkSource") {
		t.Fatalf("error message %q does not name the failing step", after.ErrorMessage)
	}
	if h.backend.calls != 0 {
		t.Fatal("missing source must not reach the provider")
	}
}

// transitionFailingStore rejects one specific status transition.
type transitionFailingStore struct {
	jobstore.Store
	failStatus domain.JobStatus
}

func (s *transitionFailingStore) SetStatus(ctx context.Context, jobID string, status domain.JobStatus, msg string) error {
	if status == s.failStatus {
		return errors.New("store unavailable")
	}
	return s.Store.SetStatus(ctx, jobID, status, msg)
}

func TestPipelineDegradedAnalysisStillCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, nil)
	h.analyzer.payload = `{"summary": null, "tags": "not-an-array"}`

	h.orch.HandleTrigger(ctx, events.Trigger{JobID: job.ID, Stage: events.StageTranscribe})
	for _, trig := range h.bus.triggers() {
		h.orch.HandleTrigger(ctx, trig)
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed despite degraded analysis", final.Status)
	}
	if final.Metadata["analysis_degraded"] != true {
		t.Fatalf("analysis_degraded = %v, want true", final.Metadata["analysis_degraded"])
	}
	if warning, _ := final.Metadata["analysis_warning"].(string); warning == "" {
		t.Fatal("degraded analysis should record a warning in metadata")
	}
	summary, err := h.blobs.GetBlob(ctx, final.Artifacts.SummaryURI)
	if err != nil {
		t.Fatalf("GetBlob summary: %v", err)
	}
	if string(summary) != analysis.PlaceholderSummary {
		t.Fatalf("summary = %q, want placeholder", summary)
	}
}

func TestPipelineUnknownJobIgnored(t *testing.T) {
	h := newHarness(t)
	h.orch.HandleTrigger(context.Background(), events.Trigger{JobID: "nope", Stage: events.StageTranscribe})
	if h.backend.calls != 0 {
		t.Fatal("unknown job must not reach the provider")
	}
}

func TestRenderSubtitles(t *testing.T) {
	segments := []transcription.Segment{
		{Start: 0, End: 2.5, Text: "Hello there."},
		{Start: 3661.25, End: 3663, Text: "Later on."},
	}

	srt, err := RenderSubtitles("srt", segments)
	if err != nil {
		t.Fatalf("srt: %v", err)
	}
	if !strings.Contains(string(srt), "00:00:00,000 --> 00:00:02,500") {
		t.Fatalf("srt timestamps wrong:\n%s", srt)
	}
	if !strings.Contains(string(srt), "01:01:01,250 --> 01:01:03,000") {
		t.Fatalf("srt hour rollover wrong:\n%s", srt)
	}

	vtt, err := RenderSubtitles("vtt", segments)
	if err != nil {
		t.Fatalf("vtt: %v", err)
	}
	if !strings.HasPrefix(string(vtt), "WEBVTT\n") {
		t.Fatalf("vtt header missing:\n%s", vtt)
	}
	if !strings.Contains(string(vtt), "00:00:00.000 --> 00:00:02.500") {
		t.Fatalf("vtt timestamps wrong:\n%s", vtt)
	}

	if _, err := RenderSubtitles("ass", segments); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
