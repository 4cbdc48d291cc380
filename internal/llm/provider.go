package llm

import "context"

// Request contains post generation parameters
type Request struct {
	Markdown         string
	Filename         string
	ExtraContext     string
	History          string
	ToneHint         string
	RelationshipType string
	ParentContent    string
	EditInstructions string
	PreviousContent  string
	SeriesPosition   int
}

// Response contains LLM generation result
type Response struct {
	Post       string
	ToneUsed   string
	Rationale  string
	Audience   string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// AvailableModels returns list of supported models
	AvailableModels() []string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// GeneratePost drafts a social media post from a markdown write-up
	GeneratePost(ctx context.Context, req Request, model string) (*Response, error)
}
