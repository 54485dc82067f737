// Package ollama implements the analysis provider against Ollama's chat
// API in JSON format mode.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skillsenselab/scribeflow/internal/analysis"
	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
)

const (
	// ProviderName is the registered name for the Ollama analysis
	// provider.
	ProviderName = "ollama"

	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3"
	defaultTimeout = 120 * time.Second
)

const systemPrompt = `You analyze meeting and media transcripts. Respond with a single JSON object:
{"speakers": [{"name": string, "role": string}], "summary": string, "tags": [string]}
Identify each distinct speaker with their apparent role. Tags are short topical keywords.`

// Config holds configuration for the Ollama analysis provider.
type Config struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Provider implements analysis.Provider using Ollama's HTTP API.
type Provider struct {
	cfg    Config
	client *http.Client
}

// NewProvider creates a new Ollama analysis provider.
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

// IsAvailable checks if the Ollama server is reachable.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Analyze sends the transcript through the chat API and returns the raw
// JSON payload the model produced.
func (p *Provider) Analyze(ctx context.Context, req analysis.Request) (json.RawMessage, error) {
	chatReq := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		Stream: false,
		Format: "json",
	}
	if p.cfg.Temperature > 0 {
		chatReq.Options = map[string]any{"temperature": p.cfg.Temperature}
	}

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeout("ollama chat")
		}
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama: http %d: %s", resp.StatusCode, string(body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return json.RawMessage(out.Message.Content), nil
}

func userPrompt(req analysis.Request) string {
	style := "Keep the summary to three sentences."
	if req.Verbosity == analysis.VerbosityDetailed {
		style = "Write a detailed summary covering context, discussion points and outcomes."
	}
	lang := ""
	if req.Language != "" {
		lang = fmt.Sprintf(" The transcript language is %q.", req.Language)
	}
	return fmt.Sprintf("%s%s\n\nTranscript:\n%s", style, lang, req.Transcript)
}
