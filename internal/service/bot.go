package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/prioritizer"
	"github.com/Rrens/postbot/internal/session"
	"github.com/rs/zerolog/log"
)

// Bot coordinates the conversation: it routes events through the state
// machine, calls collaborators and persists the session afterwards
type Bot struct {
	registry  *Registry
	machine   *session.Machine
	generator domain.ContentGenerator
	records   domain.RecordStore
	history   *prioritizer.Prioritizer
	locks     userLocks
	now       func() time.Time
}

// NewBot creates the coordinator. records may be nil when approved posts
// are not mirrored anywhere.
func NewBot(
	registry *Registry,
	machine *session.Machine,
	generator domain.ContentGenerator,
	records domain.RecordStore,
	history *prioritizer.Prioritizer,
) *Bot {
	return &Bot{
		registry:  registry,
		machine:   machine,
		generator: generator,
		records:   records,
		history:   history,
		locks:     userLocks{m: make(map[int64]*sync.Mutex)},
		now:       machine.Now,
	}
}

// Registry returns the session registry
func (b *Bot) Registry() *Registry {
	return b.registry
}

// Handle processes one event for one user. Events of the same user are
// serialized. The returned replies are always safe to send, also when an
// operation failed half way.
func (b *Bot) Handle(ctx context.Context, ev Event) ([]Reply, error) {
	if ev.UserID == 0 {
		return nil, fmt.Errorf("%w: event has no user", domain.ErrValidation)
	}
	if ev.ChatID == 0 {
		ev.ChatID = ev.UserID
	}

	unlock := b.locks.lock(ev.UserID)
	defer unlock()

	s := b.registry.GetOrCreate(ctx, ev.UserID)

	var replies []Reply
	if ev.Command != "" {
		var changed bool
		replies, changed = b.handleCommand(ctx, s, ev)
		if !changed {
			return replies, nil
		}
	} else {
		// A new upload on a series that already has its source starts a new series.
		if ev.Kind == session.EventFileUploaded && s.Source != nil {
			s = b.registry.Create(ctx, ev.UserID)
		}
		replies = b.handleEvent(ctx, s, ev)
	}

	b.persist(ctx, s)
	return replies, nil
}

func (b *Bot) handleEvent(ctx context.Context, s *domain.Session, ev Event) []Reply {
	snapshot := s.Clone()

	tr, err := b.machine.Apply(s, ev.machineEvent())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionTimeout):
		log.Info().Int64("user_id", s.UserID).Msg("Session timed out")
		return []Reply{reply(ev.ChatID, msgTimeout)}
	case errors.Is(err, session.ErrNoTransition):
		return b.handleUnmatched(s, ev)
	case errors.Is(err, domain.ErrEmptyInput):
		return []Reply{reply(ev.ChatID, msgEmptyInput)}
	case errors.Is(err, domain.ErrInputTooLong):
		return []Reply{reply(ev.ChatID, fmt.Sprintf(msgInputTooLong, b.maxInputHint()))}
	default:
		log.Error().Err(err).Int64("user_id", s.UserID).Msg("State transition failed")
		return []Reply{reply(ev.ChatID, msgFailure)}
	}

	replies, err := b.execute(ctx, s, tr.Effect, ev)
	if err != nil {
		*s = *snapshot
		if errors.Is(err, domain.ErrValidation) {
			log.Debug().Err(err).Int64("user_id", s.UserID).Msg("Rejected selection")
			return []Reply{reply(ev.ChatID, msgInvalidChoice)}
		}
		log.Error().
			Err(err).
			Int64("user_id", s.UserID).
			Str("effect", string(tr.Effect)).
			Msg("Operation failed, session rolled back")
		return []Reply{reply(ev.ChatID, msgFailure)}
	}
	s.Touch(b.now())
	return replies
}

// handleUnmatched deals with events the current state has no transition for.
// Free text becomes ordinary chat; stale buttons are ignored.
func (b *Bot) handleUnmatched(s *domain.Session, ev Event) []Reply {
	if ev.Kind != session.EventFreeText {
		log.Debug().
			Int64("user_id", s.UserID).
			Str("state", s.State.String()).
			Str("action", string(ev.Action)).
			Msg("Ignoring button outside its flow")
		return []Reply{reply(ev.ChatID, msgStaleButton)}
	}

	if err := b.machine.ValidateFreeText(ev.Text); err != nil {
		if errors.Is(err, domain.ErrInputTooLong) {
			return []Reply{reply(ev.ChatID, fmt.Sprintf(msgInputTooLong, b.maxInputHint()))}
		}
		return []Reply{reply(ev.ChatID, msgEmptyInput)}
	}

	text := msgFreeChatNoSource
	if s.Source != nil {
		text = msgFreeChat
	}
	s.AddInteraction(domain.Interaction{
		Timestamp:   b.now(),
		UserMessage: ev.Text,
		BotResponse: text,
		MessageType: domain.MessageFreeChat,
	})
	s.Touch(b.now())
	return []Reply{reply(ev.ChatID, text)}
}

func (b *Bot) execute(ctx context.Context, s *domain.Session, effect session.Effect, ev Event) ([]Reply, error) {
	switch effect {
	case session.EffectAskContext:
		return b.askContext(s, ev)
	case session.EffectGenerate:
		return b.generateFirst(ctx, s, ev)
	case session.EffectRegenerate:
		return b.regenerate(ctx, s, ev, "")
	case session.EffectAskStoryEdits:
		return b.askStoryEdits(s, ev)
	case session.EffectRegenerateWithEdits:
		return b.regenerate(ctx, s, ev, ev.Text)
	case session.EffectApprove:
		return b.approve(ctx, s, ev)
	case session.EffectAskRelationship:
		return b.askRelationship(s, ev)
	case session.EffectAskParent:
		return b.askParent(s, ev)
	case session.EffectAskFollowupContext:
		return b.askFollowupContext(s, ev)
	case session.EffectPreview:
		return b.preview(s, ev)
	case session.EffectGenerateFollowup:
		return b.generateFollowup(ctx, s, ev)
	case session.EffectCancel:
		return b.cancel(s, ev)
	case session.EffectShowSeries:
		return []Reply{b.seriesReply(s, ev.ChatID)}, nil
	case session.EffectRate:
		return b.rate(s, ev)
	}
	return nil, fmt.Errorf("unhandled effect %q", effect)
}

func (b *Bot) persist(ctx context.Context, s *domain.Session) {
	if err := b.registry.Save(ctx, s); err != nil {
		log.Error().
			Err(err).
			Int64("user_id", s.UserID).
			Str("series_id", s.SeriesID).
			Msg("Failed to persist session")
	}
}

func (b *Bot) maxInputHint() int {
	return b.machine.MaxInput()
}

// userLocks hands out one mutex per user
type userLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	m, ok := l.m[userID]
	if !ok {
		m = &sync.Mutex{}
		l.m[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
