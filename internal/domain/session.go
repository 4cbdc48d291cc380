package domain

import (
	"context"
	"time"
)

// State is the step a user's conversation is waiting on
type State string

// The empty state is idle: no pending input is expected.
const (
	StateIdle                           State = ""
	StateAwaitingFileContext            State = "awaiting_file_context"
	StateAwaitingStoryEdits             State = "awaiting_story_edits"
	StateAwaitingRelationshipSelection  State = "awaiting_relationship_selection"
	StateAwaitingPreviousPostSelection  State = "awaiting_previous_post_selection"
	StateAwaitingGenerationConfirmation State = "awaiting_generation_confirmation"
	StateAwaitingFollowupContext        State = "awaiting_followup_context"
)

// IsIdle reports whether no input is pending
func (s State) IsIdle() bool {
	return s == StateIdle
}

// ExpectsFreeText reports whether the state consumes typed text
func (s State) ExpectsFreeText() bool {
	switch s {
	case StateAwaitingFileContext, StateAwaitingStoryEdits, StateAwaitingFollowupContext:
		return true
	}
	return false
}

func (s State) String() string {
	if s == StateIdle {
		return "idle"
	}
	return string(s)
}

// SourceDocument is the markdown write-up a series is built from
type SourceDocument struct {
	Markdown string `json:"markdown"`
	Filename string `json:"filename"`
}

// PendingGeneration describes a follow-up post being assembled across several prompts
type PendingGeneration struct {
	RelationshipType string `json:"relationship_type,omitempty"`
	ParentPostID     *int   `json:"parent_post_id,omitempty"`
	ExtraContext     string `json:"extra_context,omitempty"`
	Preview          string `json:"preview,omitempty"`
	Confirmed        bool   `json:"confirmed"`
}

// Draft is generated content the user has not accepted yet
type Draft struct {
	Content          string  `json:"content"`
	ToneUsed         string  `json:"tone_used"`
	Rationale        string  `json:"rationale,omitempty"`
	Audience         string  `json:"audience,omitempty"`
	RelationshipType *string `json:"relationship_type,omitempty"`
	ParentPostID     *int    `json:"parent_post_id,omitempty"`
	// ReplacesPostID is set when the draft regenerates an accepted post.
	ReplacesPostID *int      `json:"replaces_post_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session is one user's working series
type Session struct {
	UserID       int64              `json:"user_id"`
	SeriesID     string             `json:"series_id"`
	Source       *SourceDocument    `json:"source,omitempty"`
	Posts        []Post             `json:"posts"`
	ChatHistory  []Interaction      `json:"chat_history"`
	State        State              `json:"state"`
	Pending      *PendingGeneration `json:"pending_generation,omitempty"`
	Draft        *Draft             `json:"draft,omitempty"`
	Preferences  UserPreferences    `json:"user_preferences"`
	LastActivity time.Time          `json:"last_activity"`
	CreatedAt    time.Time          `json:"created_at"`
}

// NewSession creates an idle session for a user
func NewSession(userID int64, seriesID string, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		SeriesID:     seriesID,
		Posts:        []Post{},
		ChatHistory:  []Interaction{},
		Preferences:  NewUserPreferences(),
		LastActivity: now,
		CreatedAt:    now,
	}
}

// PostCount returns the number of accepted posts
func (s *Session) PostCount() int {
	return len(s.Posts)
}

// SetSource attaches the uploaded document. The source cannot change afterwards.
func (s *Session) SetSource(markdown, filename string) error {
	if s.Source != nil {
		return ErrSourceImmutable
	}
	s.Source = &SourceDocument{Markdown: markdown, Filename: filename}
	return nil
}

// Touch records user-visible activity
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// Enter moves the session into a state, stamping activity for awaiting states
func (s *Session) Enter(state State, now time.Time) {
	s.State = state
	if !state.IsIdle() {
		s.LastActivity = now
	}
}

// Reset drops any in-flight selection and returns to idle
func (s *Session) Reset() {
	s.State = StateIdle
	s.Pending = nil
}

// PostByID finds an accepted post
func (s *Session) PostByID(id int) (*Post, bool) {
	for i := range s.Posts {
		if s.Posts[i].ID == id {
			return &s.Posts[i], true
		}
	}
	return nil, false
}

// AddPost appends a post, assigning the next id in the series.
// A parent must already be part of the series.
func (s *Session) AddPost(p Post) (Post, error) {
	if p.ParentPostID != nil {
		if _, ok := s.PostByID(*p.ParentPostID); !ok {
			return Post{}, ErrUnknownParent
		}
	}
	p.ID = s.nextPostID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.Posts = append(s.Posts, p)
	return p, nil
}

// ReplacePostContent swaps a post's content after regeneration.
// The id and relationship metadata stay the same.
func (s *Session) ReplacePostContent(id int, content, tone string) error {
	p, ok := s.PostByID(id)
	if !ok {
		return ErrPostNotFound
	}
	p.Content = content
	if tone != "" {
		p.ToneUsed = tone
	}
	p.ExternalRecordID = nil
	return nil
}

func (s *Session) nextPostID() int {
	highest := 0
	for _, p := range s.Posts {
		if p.ID > highest {
			highest = p.ID
		}
	}
	return highest + 1
}

// AddInteraction appends an entry to the chat history
func (s *Session) AddInteraction(in Interaction) {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	if in.Context == nil {
		in.Context = map[string]string{}
	}
	s.ChatHistory = append(s.ChatHistory, in)
}

// Clone returns a deep copy, used to roll back failed operations
func (s *Session) Clone() *Session {
	c := *s
	if s.Source != nil {
		src := *s.Source
		c.Source = &src
	}
	c.Posts = make([]Post, len(s.Posts))
	for i, p := range s.Posts {
		c.Posts[i] = p.clone()
	}
	c.ChatHistory = make([]Interaction, len(s.ChatHistory))
	for i, in := range s.ChatHistory {
		c.ChatHistory[i] = in.clone()
	}
	if s.Pending != nil {
		p := *s.Pending
		p.ParentPostID = cloneInt(s.Pending.ParentPostID)
		c.Pending = &p
	}
	if s.Draft != nil {
		d := *s.Draft
		d.RelationshipType = cloneString(s.Draft.RelationshipType)
		d.ParentPostID = cloneInt(s.Draft.ParentPostID)
		d.ReplacesPostID = cloneInt(s.Draft.ReplacesPostID)
		c.Draft = &d
	}
	c.Preferences = s.Preferences.clone()
	return &c
}

// SessionSummary is a light listing entry for stored sessions
type SessionSummary struct {
	UserID           int64     `json:"user_id"`
	SeriesID         string    `json:"series_id"`
	Filename         string    `json:"filename,omitempty"`
	PostCount        int       `json:"post_count"`
	InteractionCount int       `json:"interaction_count"`
	LastActivity     time.Time `json:"last_activity"`
}

// Summary builds the listing entry for a session
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		UserID:           s.UserID,
		SeriesID:         s.SeriesID,
		PostCount:        len(s.Posts),
		InteractionCount: len(s.ChatHistory),
		LastActivity:     s.LastActivity,
	}
	if s.Source != nil {
		sum.Filename = s.Source.Filename
	}
	return sum
}

// UserStats aggregates every stored session of a user
type UserStats struct {
	UserID              int64   `json:"user_id"`
	TotalSessions       int     `json:"total_sessions"`
	TotalPosts          int     `json:"total_posts"`
	TotalInteractions   int     `json:"total_interactions"`
	AverageSatisfaction float64 `json:"average_satisfaction"`
}

// CollectUserStats aggregates sessions belonging to one user.
// AverageSatisfaction covers only rated interactions and is 0 when none are rated.
func CollectUserStats(userID int64, sessions []*Session) *UserStats {
	stats := &UserStats{UserID: userID}
	var sum float64
	var rated int
	for _, s := range sessions {
		stats.TotalSessions++
		stats.TotalPosts += len(s.Posts)
		stats.TotalInteractions += len(s.ChatHistory)
		for _, in := range s.ChatHistory {
			if in.Satisfaction != nil {
				sum += *in.Satisfaction
				rated++
			}
		}
	}
	if rated > 0 {
		stats.AverageSatisfaction = sum / float64(rated)
	}
	return stats
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, userID int64, seriesID string) (*Session, error)
	LoadLatest(ctx context.Context, userID int64) (*Session, error)
	ListByUser(ctx context.Context, userID int64) ([]SessionSummary, error)
	Delete(ctx context.Context, userID int64, seriesID string) error
	LoadPreferences(ctx context.Context, userID int64) (UserPreferences, error)
	UserStats(ctx context.Context, userID int64) (*UserStats, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Backup(ctx context.Context, destPath string) error
	Ping(ctx context.Context) error
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
