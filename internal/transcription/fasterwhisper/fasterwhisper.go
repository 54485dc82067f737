// Package fasterwhisper implements the long-form transcription backend
// against a batch faster-whisper service. The service accepts a job,
// processes it asynchronously and is polled for completion, which suits
// large payloads that would hold an inline HTTP request open too long.
package fasterwhisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/transcription"
)

const (
	// ProviderName is the registered name for the faster-whisper batch
	// provider.
	ProviderName = "fasterwhisper"

	defaultURL          = "http://localhost:8388"
	defaultModel        = "large-v3"
	defaultTimeout      = 30 * time.Minute
	defaultPollInterval = 5 * time.Second
)

// Config holds configuration for the faster-whisper batch provider.
type Config struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	Model        string        `yaml:"model" mapstructure:"model"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// Provider implements transcription.Provider using a batch faster-whisper
// service.
type Provider struct {
	cfg    Config
	client *http.Client
}

// NewProvider creates a new faster-whisper batch provider.
func NewProvider(cfg Config) *Provider {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// IsAvailable checks if the batch service is reachable.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type submitRequest struct {
	AudioURI      string `json:"audio_uri"`
	Model         string `json:"model"`
	Language      string `json:"language,omitempty"`
	SpeakerLabels bool   `json:"speaker_labels,omitempty"`
}

type submitResponse struct {
	BatchID string `json:"batch_id"`
}

type batchStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Result *struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
		Utterances []struct {
			Speaker string  `json:"speaker"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
			Text    string  `json:"text"`
		} `json:"utterances"`
	} `json:"result,omitempty"`
}

// Transcribe submits a batch job and polls it until completion or until the
// configured timeout elapses.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (*transcription.Response, error) {
	lang := req.Language
	if lang == "auto" {
		lang = ""
	}

	batchID, err := p.submit(ctx, submitRequest{
		AudioURI:      req.AudioURI,
		Model:         p.cfg.Model,
		Language:      lang,
		SpeakerLabels: req.SpeakerLabels,
	})
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(p.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, apperrors.Timeout("fasterwhisper batch").WithDetail("batch_id", batchID)
		case <-ticker.C:
			status, err := p.poll(ctx, batchID)
			if err != nil {
				return nil, err
			}
			switch status.Status {
			case "completed":
				return toResponse(status), nil
			case "failed":
				return nil, fmt.Errorf("fasterwhisper: batch %s failed: %s", batchID, status.Error)
			}
		}
	}
}

func (p *Provider) submit(ctx context.Context, req submitRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fasterwhisper: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL+"/batch/transcribe", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("fasterwhisper: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Timeout("fasterwhisper submit")
		}
		return "", fmt.Errorf("fasterwhisper: submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("fasterwhisper: http %d: %s", resp.StatusCode, string(body))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("fasterwhisper: decode submit response: %w", err)
	}
	if out.BatchID == "" {
		return "", fmt.Errorf("fasterwhisper: submit returned empty batch id")
	}
	return out.BatchID, nil
}

func (p *Provider) poll(ctx context.Context, batchID string) (*batchStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"/batch/"+batchID, nil)
	if err != nil {
		return nil, fmt.Errorf("fasterwhisper: build poll request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fasterwhisper: poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fasterwhisper: poll http %d: %s", resp.StatusCode, string(body))
	}

	var status batchStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("fasterwhisper: decode poll response: %w", err)
	}
	return &status, nil
}

func toResponse(status *batchStatus) *transcription.Response {
	if status.Result == nil {
		return &transcription.Response{}
	}
	result := &transcription.Response{
		Text:            status.Result.Text,
		Language:        status.Result.Language,
		DurationSeconds: status.Result.Duration,
	}
	for _, s := range status.Result.Segments {
		result.Segments = append(result.Segments, transcription.Segment{
			Start: s.Start, End: s.End, Text: s.Text,
		})
	}
	for _, u := range status.Result.Utterances {
		result.Utterances = append(result.Utterances, transcription.Utterance{
			Speaker: u.Speaker, Start: u.Start, End: u.End, Text: u.Text,
		})
	}
	return result
}
