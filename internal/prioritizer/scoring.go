// Package prioritizer ranks chat history against the current request and
// picks what fits into the prompt's token budget.
package prioritizer

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Rrens/postbot/internal/domain"
)

const (
	weightRecency    = 0.3
	weightSimilarity = 0.4
	weightImportance = 0.3

	recencyHalfLife = 72 * time.Hour
	neutralScore    = 0.5
)

// Request describes what the next LLM call is for
type Request struct {
	Type    domain.MessageType
	Content string
}

var importanceByType = map[domain.MessageType]float64{
	domain.MessagePostApproval:     0.9,
	domain.MessageFeedback:         0.85,
	domain.MessagePostRegeneration: 0.8,
	domain.MessageStoryEdit:        0.75,
	domain.MessagePostGeneration:   0.7,
	domain.MessageFollowupRequest:  0.65,
	domain.MessageContextInput:     0.6,
	domain.MessageFileUpload:       0.6,
	domain.MessageFreeChat:         0.4,
	domain.MessageButtonClick:      0.3,
}

// relatedTypes lists history types that usually inform a request type
var relatedTypes = map[domain.MessageType][]domain.MessageType{
	domain.MessagePostGeneration: {
		domain.MessageFileUpload, domain.MessageContextInput, domain.MessagePostApproval, domain.MessageFeedback,
	},
	domain.MessagePostRegeneration: {
		domain.MessagePostGeneration, domain.MessageFeedback, domain.MessageStoryEdit,
	},
	domain.MessageStoryEdit: {
		domain.MessagePostGeneration, domain.MessagePostRegeneration, domain.MessageFeedback,
	},
	domain.MessageFollowupRequest: {
		domain.MessagePostApproval, domain.MessagePostGeneration, domain.MessageContextInput,
	},
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"you": true, "are": true, "was": true, "but": true, "not": true, "have": true,
	"from": true, "your": true, "can": true, "will": true, "into": true, "about": true,
}

// RecencyScore decays with age: about 1.0 within the hour, under 0.3 after a week.
// A missing timestamp is neutral.
func RecencyScore(ts, now time.Time) float64 {
	if ts.IsZero() {
		return neutralScore
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Hours() / recencyHalfLife.Hours())
}

// SimilarityScore measures keyword overlap between an entry and the request
func SimilarityScore(entry domain.Interaction, req Request) float64 {
	reqTokens := tokenize(req.Content + " " + strings.ReplaceAll(string(req.Type), "_", " "))

	overlap := 0.0
	if len(reqTokens) > 0 {
		entryTokens := tokenize(entryText(entry))
		hits := 0
		for tok := range reqTokens {
			if entryTokens[tok] {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(reqTokens))
	}

	bonus := 0.0
	switch {
	case req.Type != "" && entry.MessageType == req.Type:
		bonus = 0.4
	case isRelated(req.Type, entry.MessageType):
		bonus = 0.25
	}

	return clamp(0.6*overlap + bonus)
}

// ImportanceScore rates an entry by its type, rating and how much context it carries
func ImportanceScore(entry domain.Interaction) float64 {
	score, ok := importanceByType[entry.MessageType]
	if !ok {
		score = neutralScore
	}
	if entry.Satisfaction != nil && *entry.Satisfaction >= 0.8 {
		score += 0.15
	}
	if entry.Context["tone"] != "" || entry.Context["audience"] != "" {
		score += 0.1
	}
	return clamp(score)
}

// Relevance combines the three scores. A nil request scores 0.
func Relevance(entry domain.Interaction, req *Request, now time.Time) float64 {
	if req == nil {
		return 0
	}
	return clamp(weightRecency*RecencyScore(entry.Timestamp, now) +
		weightSimilarity*SimilarityScore(entry, *req) +
		weightImportance*ImportanceScore(entry))
}

// Scored is a history entry with its relevance
type Scored struct {
	Entry     domain.Interaction
	Index     int
	Relevance float64
}

// Rank orders history by relevance, newest first on ties
func Rank(history []domain.Interaction, req *Request, now time.Time) []Scored {
	ranked := make([]Scored, len(history))
	for i, entry := range history {
		ranked[i] = Scored{Entry: entry, Index: i, Relevance: Relevance(entry, req, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.Entry.Timestamp.Equal(b.Entry.Timestamp) {
			return a.Entry.Timestamp.After(b.Entry.Timestamp)
		}
		return a.Index > b.Index
	})
	return ranked
}

func isRelated(reqType, entryType domain.MessageType) bool {
	for _, t := range relatedTypes[reqType] {
		if t == entryType {
			return true
		}
	}
	return false
}

func entryText(entry domain.Interaction) string {
	parts := []string{entry.UserMessage, entry.BotResponse}
	keys := make([]string, 0, len(entry.Context))
	for k := range entry.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, entry.Context[k])
	}
	return strings.Join(parts, " ")
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopwords[f] {
			continue
		}
		out[f] = true
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
