package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/rs/zerolog/log"
)

// Generator adapts the router to domain.ContentGenerator, falling back to
// other configured providers when the preferred one fails
type Generator struct {
	router   *Router
	provider string
	timeout  time.Duration
}

// NewGenerator creates a generator that prefers the named provider
func NewGenerator(router *Router, provider string, timeout time.Duration) *Generator {
	return &Generator{router: router, provider: provider, timeout: timeout}
}

// Generate drafts a post. Every failure wraps domain.ErrCollaborator.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedPost, error) {
	candidates := g.router.Candidates(g.provider)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no llm provider configured", domain.ErrCollaborator)
	}

	llmReq := Request{
		Markdown:         req.Markdown,
		Filename:         req.Filename,
		ExtraContext:     req.Context,
		History:          req.History,
		ToneHint:         req.ToneHint,
		RelationshipType: req.RelationshipHint,
		ParentContent:    req.ParentContent,
		EditInstructions: req.EditInstructions,
		PreviousContent:  req.PreviousContent,
		SeriesPosition:   req.SeriesPosition,
	}

	var errs []error
	for _, p := range candidates {
		resp, err := g.call(ctx, p, llmReq)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("Post generation failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		log.Info().
			Str("provider", p.Name()).
			Str("model", resp.Model).
			Int("tokens", resp.TokensUsed).
			Int64("latency_ms", resp.LatencyMs).
			Msg("Post generated")

		return &domain.GeneratedPost{
			Content:   resp.Post,
			ToneUsed:  resp.ToneUsed,
			Rationale: resp.Rationale,
			Audience:  resp.Audience,
		}, nil
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrCollaborator, errors.Join(errs...))
}

func (g *Generator) call(ctx context.Context, p Provider, req Request) (*Response, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := p.GeneratePost(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if resp.Post == "" {
		return nil, fmt.Errorf("empty post")
	}
	return resp, nil
}
