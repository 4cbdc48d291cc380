package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/llm"
)

const maxTokens = 1024

// Provider implements llm.Provider on the official Anthropic SDK
type Provider struct {
	apiKey       string
	defaultModel string
	client       sdk.Client
}

// NewProvider creates a new Anthropic provider
func NewProvider(cfg config.AnthropicConfig) *Provider {
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		// the generator falls back to other providers instead
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL+"/"))
	}

	return &Provider{
		apiKey:       apiKey,
		defaultModel: model,
		client:       sdk.NewClient(opts...),
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"claude-3-5-haiku-latest",
		"claude-3-5-sonnet-latest",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

// GeneratePost drafts a post through the messages API
func (p *Provider) GeneratePost(ctx context.Context, req llm.Request, model string) (*llm.Response, error) {
	if model == "" {
		model = p.defaultModel
	}

	start := time.Now()

	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		System:    []sdk.TextBlockParam{{Text: llm.SystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(llm.BuildPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response from Anthropic")
	}

	out := llm.ParseGeneration(text.String())
	out.Model = model
	out.TokensUsed = int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	out.LatencyMs = time.Since(start).Milliseconds()
	return &out, nil
}
