package transcription

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/resilience"
)

type fakeProvider struct {
	name  string
	calls int
	err   error
	resp  *Response
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeProvider) Transcribe(ctx context.Context, _ Request) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestRouter(t *testing.T, providers ...Provider) (*Router, *resilience.Breakers) {
	t.Helper()
	breakers := resilience.NewBreakers(resilience.CircuitBreakerConfig{
		MaxFailures: 2,
		Cooldown:    time.Minute,
	})
	cfg := RouterConfig{
		Default:              "whisper",
		Specialized:          "cloudflare",
		LongForm:             "fasterwhisper",
		SpecializedLanguages: []string{"ja", "ko", "zh"},
		LongFormBytes:        1000,
	}
	return NewRouter(cfg, providers, breakers, logger.NewDefault("test")), breakers
}

func TestRouteDefault(t *testing.T) {
	r, _ := newTestRouter(t)
	if got := r.Route("en", 500); got != "whisper" {
		t.Fatalf("Route(en, 500) = %q, want whisper", got)
	}
}

func TestRouteSpecializedLanguage(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, lang := range []string{"ja", "ko", "zh"} {
		if got := r.Route(lang, 500); got != "cloudflare" {
			t.Fatalf("Route(%s, 500) = %q, want cloudflare", lang, got)
		}
	}
	if got := r.Route("fr", 500); got != "whisper" {
		t.Fatalf("Route(fr, 500) = %q, want whisper", got)
	}
}

func TestRouteLongForm(t *testing.T) {
	r, _ := newTestRouter(t)
	if got := r.Route("en", 1001); got != "fasterwhisper" {
		t.Fatalf("Route(en, 1001) = %q, want fasterwhisper", got)
	}
	// Threshold is exclusive.
	if got := r.Route("en", 1000); got != "whisper" {
		t.Fatalf("Route(en, 1000) = %q, want whisper", got)
	}
}

func TestRouteSizeWinsOverLanguage(t *testing.T) {
	r, _ := newTestRouter(t)
	if got := r.Route("ja", 5000); got != "fasterwhisper" {
		t.Fatalf("Route(ja, 5000) = %q, want fasterwhisper", got)
	}
}

func TestSizeClassOf(t *testing.T) {
	r, _ := newTestRouter(t)
	if got := r.SizeClassOf(999); got != SizeInline {
		t.Fatalf("SizeClassOf(999) = %q, want inline", got)
	}
	if got := r.SizeClassOf(1001); got != SizeLongForm {
		t.Fatalf("SizeClassOf(1001) = %q, want long-form", got)
	}
}

func TestTranscribeDispatchesToRoutedBackend(t *testing.T) {
	def := &fakeProvider{name: "whisper", resp: &Response{Text: "hello"}}
	spec := &fakeProvider{name: "cloudflare", resp: &Response{Text: "konnichiwa"}}
	r, _ := newTestRouter(t, def, spec)

	resp, err := r.Transcribe(context.Background(), Request{Language: "ja", PayloadBytes: 10})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "konnichiwa" {
		t.Fatalf("got text %q, want konnichiwa", resp.Text)
	}
	if def.calls != 0 || spec.calls != 1 {
		t.Fatalf("calls: default=%d specialized=%d, want 0/1", def.calls, spec.calls)
	}
}

func TestTranscribeUnknownBackend(t *testing.T) {
	r, _ := newTestRouter(t)
	if _, err := r.Transcribe(context.Background(), Request{Language: "en"}); err == nil {
		t.Fatal("expected error for unregistered backend")
	}
}

func TestTranscribeOpenBreakerShortCircuits(t *testing.T) {
	boom := errors.New("backend down")
	def := &fakeProvider{name: "whisper", err: boom}
	r, _ := newTestRouter(t, def)

	// Two failures trip the breaker.
	for i := 0; i < 2; i++ {
		if _, err := r.Transcribe(context.Background(), Request{Language: "en"}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v, want backend error", i, err)
		}
	}

	_, err := r.Transcribe(context.Background(), Request{Language: "en"})
	appErr, ok := apperrors.As(err)
	if !ok {
		t.Fatalf("got %v, want AppError", err)
	}
	if appErr.Code != apperrors.ErrCodeProviderUnavailable {
		t.Fatalf("got code %s, want %s", appErr.Code, apperrors.ErrCodeProviderUnavailable)
	}
	if def.calls != 2 {
		t.Fatalf("provider called %d times, want 2 (open breaker must not call)", def.calls)
	}
}

func TestTranscribeBreakerIsPerBackend(t *testing.T) {
	boom := errors.New("down")
	def := &fakeProvider{name: "whisper", err: boom}
	spec := &fakeProvider{name: "cloudflare", resp: &Response{Text: "ok"}}
	r, _ := newTestRouter(t, def, spec)

	for i := 0; i < 2; i++ {
		r.Transcribe(context.Background(), Request{Language: "en"})
	}

	// Default backend breaker is open but the specialized one still works.
	if _, err := r.Transcribe(context.Background(), Request{Language: "ja"}); err != nil {
		t.Fatalf("specialized backend should be unaffected: %v", err)
	}
}
