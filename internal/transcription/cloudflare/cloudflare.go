// Package cloudflare implements the specialized-language transcription
// backend against the Cloudflare Workers AI REST API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/transcription"
)

const (
	// ProviderName is the registered name for the Cloudflare provider.
	ProviderName = "cloudflare"

	defaultBaseURL = "https://api.cloudflare.com/client/v4"
	defaultModel   = "@cf/openai/whisper-large-v3-turbo"
	defaultTimeout = 300 * time.Second
)

// Config holds configuration for the Cloudflare Workers AI provider.
type Config struct {
	AccountID string        `yaml:"account_id" mapstructure:"account_id"`
	APIToken  string        `yaml:"api_token" mapstructure:"api_token"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	Model     string        `yaml:"model" mapstructure:"model"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Provider implements transcription.Provider using Cloudflare Workers AI.
type Provider struct {
	cfg    Config
	client *http.Client
}

// NewProvider creates a new Cloudflare transcription provider.
func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// IsAvailable reports whether the provider is configured. Workers AI has no
// cheap health endpoint, so configuration presence is the availability
// signal.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.cfg.AccountID != "" && p.cfg.APIToken != ""
}

type runRequest struct {
	AudioURI string `json:"audio_uri"`
	Language string `json:"language,omitempty"`
}

type runResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		Text string `json:"text"`
		Info struct {
			Language string  `json:"language"`
			Duration float64 `json:"duration"`
		} `json:"transcription_info"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	} `json:"result"`
}

// Transcribe runs the Workers AI whisper model on the referenced audio.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (*transcription.Response, error) {
	if !p.IsAvailable(ctx) {
		return nil, fmt.Errorf("cloudflare: account_id and api_token are required")
	}

	payload, err := json.Marshal(runRequest{
		AudioURI: req.AudioURI,
		Language: req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("cloudflare: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", p.cfg.BaseURL, p.cfg.AccountID, p.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeout("cloudflare transcribe")
		}
		return nil, fmt.Errorf("cloudflare: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("cloudflare: http %d: %s", resp.StatusCode, string(body))
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("cloudflare: decode response: %w", err)
	}
	if !out.Success {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
		}
		return nil, fmt.Errorf("cloudflare: api error: %s", strings.Join(msgs, "; "))
	}

	result := &transcription.Response{
		Text:            out.Result.Text,
		Language:        out.Result.Info.Language,
		DurationSeconds: out.Result.Info.Duration,
	}
	for _, s := range out.Result.Segments {
		result.Segments = append(result.Segments, transcription.Segment{
			Start: s.Start, End: s.End, Text: s.Text,
		})
	}
	return result, nil
}
