package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/llm"
)

// Provider implements llm.Provider for a self-hosted Ollama server
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
}

// NewProvider creates a new Ollama provider. An empty host leaves it unconfigured.
func NewProvider(cfg config.OllamaConfig) *Provider {
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	return &Provider{
		host:         strings.TrimRight(cfg.Host, "/"),
		defaultModel: model,
		client:       &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"llama3.1",
		"llama3.2",
		"mistral",
		"qwen2.5",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured reports whether a host is set
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

// GeneratePost drafts a post through /api/generate in JSON mode
func (p *Provider) GeneratePost(ctx context.Context, req llm.Request, model string) (*llm.Response, error) {
	if model == "" {
		model = p.defaultModel
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		System: llm.SystemPrompt,
		Prompt: llm.BuildPrompt(req),
		Format: "json",
		Options: map[string]any{
			"temperature": 0.7,
			"num_predict": 1024,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := llm.ParseGeneration(genResp.Response)
	out.Model = model
	out.TokensUsed = genResp.EvalCount
	out.LatencyMs = time.Since(start).Milliseconds()
	return &out, nil
}
