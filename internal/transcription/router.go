package transcription

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/resilience"
)

// SizeClass buckets a payload for routing.
type SizeClass string

const (
	// SizeInline fits the low-latency default backend.
	SizeInline SizeClass = "inline"
	// SizeLongForm is routed to the long-form batch backend.
	SizeLongForm SizeClass = "long-form"
)

// RouterConfig configures backend selection.
type RouterConfig struct {
	// Default is the backend used when no special rule applies.
	Default string `yaml:"default" mapstructure:"default"`
	// Specialized is the backend for SpecializedLanguages.
	Specialized string `yaml:"specialized" mapstructure:"specialized"`
	// LongForm is the backend for payloads over LongFormBytes.
	LongForm string `yaml:"long_form" mapstructure:"long_form"`
	// SpecializedLanguages is the fixed language set routed to Specialized.
	SpecializedLanguages []string `yaml:"specialized_languages" mapstructure:"specialized_languages"`
	// LongFormBytes is the payload size threshold for the LongForm backend.
	LongFormBytes int64 `yaml:"long_form_bytes" mapstructure:"long_form_bytes"`
}

// ApplyDefaults applies default values to router configuration.
func (c *RouterConfig) ApplyDefaults() {
	if c.LongFormBytes <= 0 {
		c.LongFormBytes = 100 << 20
	}
}

// Router selects a transcription backend from {language, sizeClass} and
// executes the call through that backend's shared circuit breaker. The
// route is resolved once per job at entry, not scattered through call
// sites.
type Router struct {
	cfg       RouterConfig
	providers map[string]Provider
	breakers  *resilience.Breakers
	log       *logger.Logger
}

// NewRouter creates a router over the given providers.
func NewRouter(cfg RouterConfig, providers []Provider, breakers *resilience.Breakers, log *logger.Logger) *Router {
	cfg.ApplyDefaults()
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Router{
		cfg:       cfg,
		providers: byName,
		breakers:  breakers,
		log:       log.WithComponent("transcription.router"),
	}
}

// SizeClassOf buckets a payload size.
func (r *Router) SizeClassOf(payloadBytes int64) SizeClass {
	if payloadBytes > r.cfg.LongFormBytes {
		return SizeLongForm
	}
	return SizeInline
}

// Route resolves the backend name for {language, sizeClass}. Oversized
// payloads win over language specialization: the specialized backend is a
// low-latency service and cannot take long-form work.
func (r *Router) Route(language string, payloadBytes int64) string {
	if r.SizeClassOf(payloadBytes) == SizeLongForm {
		return r.cfg.LongForm
	}
	for _, l := range r.cfg.SpecializedLanguages {
		if l == language {
			return r.cfg.Specialized
		}
	}
	return r.cfg.Default
}

// Transcribe routes the request and executes it through the selected
// backend's circuit breaker. An open breaker short-circuits with a typed
// ProviderUnavailable error and no network call.
func (r *Router) Transcribe(ctx context.Context, req Request) (*Response, error) {
	name := r.Route(req.Language, req.PayloadBytes)
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("transcription: backend %q not registered", name)
	}

	r.log.Debug("routed transcription", map[string]interface{}{
		logger.FieldProvider: name,
		"language":           req.Language,
		"size_class":         string(r.SizeClassOf(req.PayloadBytes)),
	})

	var resp *Response
	err := r.breakers.Get(name).Execute(func() error {
		var callErr error
		resp, callErr = provider.Transcribe(ctx, req)
		return callErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, apperrors.ProviderUnavailable(name)
		}
		return nil, err
	}
	return resp, nil
}
