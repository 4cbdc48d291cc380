package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/tree"
	"github.com/rs/zerolog/log"
)

// Commands understood by the bot
const (
	CommandStart   = "start"
	CommandHelp    = "help"
	CommandSeries  = "series"
	CommandStats   = "stats"
	CommandHistory = "history"
	CommandReset   = "reset"
)

// handleCommand runs a slash command. changed reports whether the session
// was modified and must be saved.
func (b *Bot) handleCommand(ctx context.Context, s *domain.Session, ev Event) ([]Reply, bool) {
	switch strings.ToLower(ev.Command) {
	case CommandStart:
		return []Reply{reply(ev.ChatID, msgWelcome)}, false
	case CommandHelp:
		return []Reply{reply(ev.ChatID, msgHelp)}, false
	case CommandSeries:
		return []Reply{b.seriesReply(s, ev.ChatID)}, false
	case CommandStats:
		return []Reply{b.statsReply(ctx, s, ev.ChatID)}, false
	case CommandHistory:
		return []Reply{b.historyReply(ctx, s.UserID, ev.ChatID)}, false
	case CommandReset:
		s.Reset()
		s.Draft = nil
		s.Touch(b.now())
		return []Reply{reply(ev.ChatID, msgReset)}, true
	}
	return []Reply{reply(ev.ChatID, msgUnknownCommand)}, false
}

func (b *Bot) statsReply(ctx context.Context, s *domain.Session, chatID int64) Reply {
	st := tree.Statistics(s.Posts)

	lines := []string{fmt.Sprintf(msgStatsSeries, st.TotalPosts)}
	if st.MostCommonTone != "" {
		lines = append(lines, fmt.Sprintf(msgStatsTone, st.MostCommonTone))
	}
	if len(st.RelationshipTypes) > 0 {
		lines = append(lines, fmt.Sprintf(msgStatsRelations, strings.Join(st.RelationshipTypes, ", ")))
	}

	account, err := b.registry.Store().UserStats(ctx, s.UserID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", s.UserID).Msg("Failed to load user stats")
	} else {
		lines = append(lines, "", fmt.Sprintf(msgStatsAccount,
			account.TotalSessions, account.TotalPosts, account.TotalInteractions))
		if account.AverageSatisfaction > 0 {
			lines = append(lines, fmt.Sprintf(msgStatsSatisfaction, account.AverageSatisfaction*100))
		}
	}
	return reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) historyReply(ctx context.Context, userID, chatID int64) Reply {
	summaries, err := b.listSeries(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to list series")
		return reply(chatID, msgFailure)
	}
	if len(summaries) == 0 {
		return reply(chatID, msgNoHistory)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastActivity.After(summaries[j].LastActivity)
	})

	lines := []string{msgHistoryHeader}
	for _, sum := range summaries {
		name := sum.Filename
		if name == "" {
			name = "(no file)"
		}
		lines = append(lines, fmt.Sprintf("• %s: %d posts, last active %s",
			name, sum.PostCount, sum.LastActivity.Format("2006-01-02 15:04")))
	}
	return reply(chatID, strings.Join(lines, "\n"))
}

// listSeries prefers the record store, which also knows series from other
// deployments, and falls back to the session store.
func (b *Bot) listSeries(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	if b.records != nil {
		summaries, err := b.records.ListSessions(ctx, userID)
		if err == nil {
			return summaries, nil
		}
		log.Warn().Err(err).Int64("user_id", userID).Msg("Record store listing failed, using session store")
	}
	return b.registry.Store().ListByUser(ctx, userID)
}
