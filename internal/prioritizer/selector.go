package prioritizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/postbot/internal/domain"
)

// ContextHeader starts every rendered context block
const ContextHeader = "Relevant conversation history:"

const maxFieldRunes = 400

// SelectOptimalContext renders the most relevant history that fits in maxTokens,
// header included. Entries are taken best first and selection stops at the first one that
// does not fit. Returns "" when nothing is selected.
func SelectOptimalContext(history []domain.Interaction, req *Request, maxTokens int, now time.Time) string {
	if len(history) == 0 || maxTokens <= 0 || req == nil {
		return ""
	}

	var blocks []string
	used := EstimateTokens(ContextHeader)
	for _, s := range Rank(history, req, now) {
		block := FormatEntry(s.Entry)
		cost := EstimateTokens(block)
		if used+cost > maxTokens {
			break
		}
		blocks = append(blocks, block)
		used += cost
	}
	if len(blocks) == 0 {
		return ""
	}
	return ContextHeader + "\n\n" + strings.Join(blocks, "\n\n")
}

// FormatEntry renders one history entry for the prompt
func FormatEntry(entry domain.Interaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", entry.MessageType)
	if user := truncate(entry.UserMessage); user != "" {
		fmt.Fprintf(&b, " User: %s", user)
	}
	if bot := truncate(entry.BotResponse); bot != "" {
		fmt.Fprintf(&b, "\nBot: %s", bot)
	}
	if tone := entry.Context["tone"]; tone != "" {
		fmt.Fprintf(&b, "\nTone: %s", tone)
	}
	return b.String()
}

// EstimateTokens approximates the token count as 4/3 of the word count
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxFieldRunes {
		return s
	}
	return string(r[:maxFieldRunes]) + "…"
}

// Prioritizer binds a token budget and a clock to the selection
type Prioritizer struct {
	MaxTokens int
	Now       func() time.Time
}

// New creates a prioritizer with the given budget
func New(maxTokens int) *Prioritizer {
	return &Prioritizer{MaxTokens: maxTokens, Now: time.Now}
}

// Context selects history for a request
func (p *Prioritizer) Context(session *domain.Session, req Request) string {
	if session == nil {
		return ""
	}
	return SelectOptimalContext(session.ChatHistory, &req, p.MaxTokens, p.Now())
}
