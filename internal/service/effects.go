package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/prioritizer"
	"github.com/Rrens/postbot/internal/session"
	"github.com/Rrens/postbot/internal/tree"
	"github.com/rs/zerolog/log"
)

const parentRecent = "recent"

var errNoSource = errors.New("session has no source document")

func (b *Bot) askContext(s *domain.Session, ev Event) ([]Reply, error) {
	if ev.Document == nil {
		return nil, fmt.Errorf("%w: upload without document", domain.ErrValidation)
	}
	if err := s.SetSource(ev.Document.Markdown, ev.Document.Filename); err != nil {
		return nil, err
	}
	s.Draft = nil

	text := fmt.Sprintf(msgAskContext, ev.Document.Filename)
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: ev.Document.Filename,
		BotResponse: text,
		MessageType: domain.MessageFileUpload,
		Context:     map[string]string{"filename": ev.Document.Filename},
	})

	return []Reply{reply(ev.ChatID, text,
		Option{Label: labelSkip, Action: session.ActionSkipContext},
		Option{Label: labelCancel, Action: session.ActionCancel},
	)}, nil
}

func (b *Bot) generateFirst(ctx context.Context, s *domain.Session, ev Event) ([]Reply, error) {
	if s.Source == nil {
		return nil, errNoSource
	}

	extra := b.recordContextInput(s, ev)

	req := domain.GenerationRequest{
		Markdown:       s.Source.Markdown,
		Filename:       s.Source.Filename,
		Context:        extra,
		History:        b.rankedHistory(s, domain.MessagePostGeneration, extra),
		ToneHint:       s.Preferences.FavoriteTone(),
		SeriesPosition: len(s.Posts) + 1,
	}
	gen, err := b.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	s.Draft = &domain.Draft{
		Content:   gen.Content,
		ToneUsed:  gen.ToneUsed,
		Rationale: gen.Rationale,
		Audience:  gen.Audience,
		CreatedAt: b.now(),
	}
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: extra,
		BotResponse: gen.Content,
		MessageType: domain.MessagePostGeneration,
		Context:     map[string]string{"tone": gen.ToneUsed},
	})

	log.Info().
		Int64("user_id", s.UserID).
		Str("series_id", s.SeriesID).
		Str("tone", gen.ToneUsed).
		Msg("Draft generated")

	return []Reply{draftReply(ev.ChatID, s.Draft)}, nil
}

// regenerate redrafts the pending draft, or the latest accepted post when
// there is no draft. edits is empty for a plain regeneration.
func (b *Bot) regenerate(ctx context.Context, s *domain.Session, ev Event, edits string) ([]Reply, error) {
	if s.Source == nil {
		return []Reply{reply(ev.ChatID, msgNothingToRedo)}, nil
	}

	target := s.Draft
	if target == nil {
		latest, ok := tree.MostRecent(s.Posts)
		if !ok {
			return []Reply{reply(ev.ChatID, msgNothingToRedo)}, nil
		}
		id := latest.ID
		target = &domain.Draft{
			Content:          latest.Content,
			ToneUsed:         latest.ToneUsed,
			RelationshipType: latest.RelationshipType,
			ParentPostID:     latest.ParentPostID,
			ReplacesPostID:   &id,
		}
	}

	msgType := domain.MessagePostRegeneration
	if edits != "" {
		msgType = domain.MessageStoryEdit
	}

	req := domain.GenerationRequest{
		Markdown:         s.Source.Markdown,
		Filename:         s.Source.Filename,
		History:          b.rankedHistory(s, msgType, edits+" "+target.Content),
		ToneHint:         s.Preferences.FavoriteTone(),
		EditInstructions: edits,
		PreviousContent:  target.Content,
		SeriesPosition:   len(s.Posts) + 1,
	}
	if target.ReplacesPostID != nil {
		req.SeriesPosition = *target.ReplacesPostID
	}
	if target.RelationshipType != nil {
		req.RelationshipHint = *target.RelationshipType
	}
	if target.ParentPostID != nil {
		if parent, ok := s.PostByID(*target.ParentPostID); ok {
			req.ParentContent = parent.Content
		}
	}

	gen, err := b.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	s.Draft = &domain.Draft{
		Content:          gen.Content,
		ToneUsed:         gen.ToneUsed,
		Rationale:        gen.Rationale,
		Audience:         gen.Audience,
		RelationshipType: target.RelationshipType,
		ParentPostID:     target.ParentPostID,
		ReplacesPostID:   target.ReplacesPostID,
		CreatedAt:        b.now(),
	}
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: edits,
		BotResponse: gen.Content,
		MessageType: msgType,
		Context:     map[string]string{"tone": gen.ToneUsed},
	})

	return []Reply{draftReply(ev.ChatID, s.Draft)}, nil
}

func (b *Bot) askStoryEdits(s *domain.Session, ev Event) ([]Reply, error) {
	if s.Draft == nil && len(s.Posts) == 0 {
		s.Reset()
		return []Reply{reply(ev.ChatID, msgNothingToEdit)}, nil
	}
	return []Reply{reply(ev.ChatID, msgAskStoryEdits,
		Option{Label: labelCancel, Action: session.ActionCancel},
	)}, nil
}

func (b *Bot) approve(ctx context.Context, s *domain.Session, ev Event) ([]Reply, error) {
	d := s.Draft
	if d == nil {
		return []Reply{reply(ev.ChatID, msgNothingToApprove)}, nil
	}

	var postID int
	if d.ReplacesPostID != nil {
		if err := s.ReplacePostContent(*d.ReplacesPostID, d.Content, d.ToneUsed); err != nil {
			return nil, fmt.Errorf("failed to replace post: %w", err)
		}
		postID = *d.ReplacesPostID
	} else {
		p, err := s.AddPost(domain.Post{
			Content:          d.Content,
			ToneUsed:         d.ToneUsed,
			RelationshipType: d.RelationshipType,
			ParentPostID:     d.ParentPostID,
			CreatedAt:        b.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add post: %w", err)
		}
		postID = p.ID
	}
	post, _ := s.PostByID(postID)

	if b.records != nil {
		payload := domain.PostPayload{
			UserID:           s.UserID,
			SeriesID:         s.SeriesID,
			PostID:           post.ID,
			Content:          post.Content,
			ToneUsed:         post.ToneUsed,
			RelationshipType: post.Relationship(),
			Status:           "approved",
		}
		if s.Source != nil {
			payload.Filename = s.Source.Filename
		}
		if post.ParentPostID != nil {
			payload.ParentPostID = *post.ParentPostID
		}
		recordID, err := b.records.Persist(ctx, payload)
		if err != nil {
			return nil, err
		}
		post.ExternalRecordID = &recordID
	}

	s.Preferences.Record(d.ToneUsed, d.Audience, d.Content)
	s.Draft = nil

	text := fmt.Sprintf(msgApproved, postID)
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: string(session.ActionApprove),
		BotResponse: text,
		MessageType: domain.MessagePostApproval,
		Context:     map[string]string{"post_id": strconv.Itoa(postID), "tone": post.ToneUsed},
	})

	log.Info().
		Int64("user_id", s.UserID).
		Str("series_id", s.SeriesID).
		Int("post_id", postID).
		Msg("Post approved")

	return []Reply{reply(ev.ChatID, text,
		Option{Label: labelNewPost, Action: session.ActionNewPost},
		Option{Label: labelShowSeries, Action: session.ActionShowSeries},
		Option{Label: labelGood, Action: session.ActionRate, Value: "1"},
		Option{Label: labelBad, Action: session.ActionRate, Value: "0"},
	)}, nil
}

func (b *Bot) askRelationship(s *domain.Session, ev Event) ([]Reply, error) {
	if len(s.Posts) == 0 {
		s.Reset()
		return []Reply{reply(ev.ChatID, msgNeedPost)}, nil
	}
	s.Pending = &domain.PendingGeneration{}

	opts := make([]Option, 0, len(domain.RelationshipTypes)+1)
	for _, rel := range domain.RelationshipTypes {
		opts = append(opts, Option{Label: rel, Action: session.ActionRelationship, Value: rel})
	}
	opts = append(opts, Option{Label: labelCancel, Action: session.ActionCancel})
	return []Reply{reply(ev.ChatID, msgAskRelationship, opts...)}, nil
}

func (b *Bot) askParent(s *domain.Session, ev Event) ([]Reply, error) {
	rel := strings.TrimSpace(ev.Value)
	if !domain.IsKnownRelationship(rel) {
		return nil, fmt.Errorf("%w: unknown relationship %q", domain.ErrValidation, rel)
	}
	if s.Pending == nil {
		s.Pending = &domain.PendingGeneration{}
	}
	s.Pending.RelationshipType = rel

	opts := make([]Option, 0, len(s.Posts)+2)
	for _, p := range s.Posts {
		opts = append(opts, Option{Label: tree.Label(p), Action: session.ActionParent, Value: strconv.Itoa(p.ID)})
	}
	opts = append(opts,
		Option{Label: labelRecent, Action: session.ActionParent, Value: parentRecent},
		Option{Label: labelCancel, Action: session.ActionCancel},
	)
	return []Reply{reply(ev.ChatID, fmt.Sprintf(msgAskParent, rel, tree.Render(s.Posts)), opts...)}, nil
}

func (b *Bot) askFollowupContext(s *domain.Session, ev Event) ([]Reply, error) {
	parent, err := resolveParent(s, ev.Value)
	if err != nil {
		return nil, err
	}
	if s.Pending == nil {
		return nil, fmt.Errorf("%w: no follow-up in progress", domain.ErrValidation)
	}
	id := parent.ID
	s.Pending.ParentPostID = &id

	return []Reply{reply(ev.ChatID, fmt.Sprintf(msgAskFollowupCtx, id),
		Option{Label: labelSkip, Action: session.ActionSkipContext},
		Option{Label: labelCancel, Action: session.ActionCancel},
	)}, nil
}

func resolveParent(s *domain.Session, value string) (domain.Post, error) {
	if value == parentRecent {
		if p, ok := tree.MostRecent(s.Posts); ok {
			return p, nil
		}
		return domain.Post{}, fmt.Errorf("%w: series has no posts", domain.ErrValidation)
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return domain.Post{}, fmt.Errorf("%w: invalid post id %q", domain.ErrValidation, value)
	}
	p, ok := s.PostByID(id)
	if !ok {
		return domain.Post{}, fmt.Errorf("%w: post %d", domain.ErrValidation, id)
	}
	return *p, nil
}

func (b *Bot) preview(s *domain.Session, ev Event) ([]Reply, error) {
	if s.Pending == nil || s.Pending.ParentPostID == nil {
		return nil, fmt.Errorf("%w: no follow-up in progress", domain.ErrValidation)
	}
	parent, ok := s.PostByID(*s.Pending.ParentPostID)
	if !ok {
		return nil, domain.ErrUnknownParent
	}

	s.Pending.ExtraContext = b.recordContextInput(s, ev)

	extra := s.Pending.ExtraContext
	if extra == "" {
		extra = msgNoContext
	}
	rel := s.Pending.RelationshipType
	s.Pending.Preview = fmt.Sprintf(msgPreview, tree.Label(*parent), rel, domain.RelationshipStrength(rel), extra)

	return []Reply{reply(ev.ChatID, s.Pending.Preview,
		Option{Label: labelConfirm, Action: session.ActionConfirm},
		Option{Label: labelCancel, Action: session.ActionCancel},
	)}, nil
}

func (b *Bot) generateFollowup(ctx context.Context, s *domain.Session, ev Event) ([]Reply, error) {
	if s.Source == nil {
		return nil, errNoSource
	}
	pending := s.Pending
	if pending == nil || pending.ParentPostID == nil {
		return nil, fmt.Errorf("%w: no follow-up in progress", domain.ErrValidation)
	}
	parent, ok := s.PostByID(*pending.ParentPostID)
	if !ok {
		return nil, domain.ErrUnknownParent
	}
	pending.Confirmed = true

	req := domain.GenerationRequest{
		Markdown:         s.Source.Markdown,
		Filename:         s.Source.Filename,
		Context:          pending.ExtraContext,
		History:          b.rankedHistory(s, domain.MessageFollowupRequest, pending.ExtraContext+" "+parent.Content),
		ToneHint:         s.Preferences.FavoriteTone(),
		RelationshipHint: pending.RelationshipType,
		ParentContent:    parent.Content,
		SeriesPosition:   len(s.Posts) + 1,
	}
	gen, err := b.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	rel := pending.RelationshipType
	parentID := parent.ID
	s.Draft = &domain.Draft{
		Content:          gen.Content,
		ToneUsed:         gen.ToneUsed,
		Rationale:        gen.Rationale,
		Audience:         gen.Audience,
		RelationshipType: &rel,
		ParentPostID:     &parentID,
		CreatedAt:        b.now(),
	}
	s.Pending = nil
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: req.Context,
		BotResponse: gen.Content,
		MessageType: domain.MessageFollowupRequest,
		Context: map[string]string{
			"relationship_type": rel,
			"parent_post_id":    strconv.Itoa(parentID),
			"tone":              gen.ToneUsed,
		},
	})

	return []Reply{draftReply(ev.ChatID, s.Draft)}, nil
}

func (b *Bot) cancel(s *domain.Session, ev Event) ([]Reply, error) {
	s.Reset()
	s.Draft = nil
	return []Reply{reply(ev.ChatID, msgCancelled)}, nil
}

func (b *Bot) rate(s *domain.Session, ev Event) ([]Reply, error) {
	score, err := strconv.ParseFloat(ev.Value, 64)
	if err != nil || score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: rating %q", domain.ErrValidation, ev.Value)
	}
	s.AddInteraction(domain.Interaction{
		Timestamp:    b.now(),
		UserMessage:  ev.Value,
		BotResponse:  msgRated,
		MessageType:  domain.MessageFeedback,
		Satisfaction: &score,
	})
	return []Reply{reply(ev.ChatID, msgRated)}, nil
}

func (b *Bot) seriesReply(s *domain.Session, chatID int64) Reply {
	if len(s.Posts) == 0 {
		return reply(chatID, msgNoPosts)
	}
	return reply(chatID, fmt.Sprintf(msgSeries, tree.Render(s.Posts)))
}

// recordContextInput returns the typed context of a text event and logs
// it in the history. Skipping yields "".
func (b *Bot) recordContextInput(s *domain.Session, ev Event) string {
	if ev.Kind != session.EventFreeText {
		return ""
	}
	text := strings.TrimSpace(ev.Text)
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: text,
		MessageType: domain.MessageContextInput,
	})
	return text
}

func (b *Bot) rankedHistory(s *domain.Session, msgType domain.MessageType, content string) string {
	if b.history == nil {
		return ""
	}
	return b.history.Context(s, prioritizer.Request{Type: msgType, Content: content})
}

func draftReply(chatID int64, d *domain.Draft) Reply {
	tone := d.ToneUsed
	if tone == "" {
		tone = "auto"
	}
	return reply(chatID, fmt.Sprintf(msgDraft, tone, d.Content),
		Option{Label: labelApprove, Action: session.ActionApprove},
		Option{Label: labelRegenerate, Action: session.ActionRegenerate},
		Option{Label: labelEdit, Action: session.ActionEditStory},
		Option{Label: labelCancel, Action: session.ActionCancel},
	)
}
