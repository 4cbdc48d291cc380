package domain

import "context"

// GenerationRequest is everything the content generator gets for one post
type GenerationRequest struct {
	Markdown string
	Filename string
	// Context is extra guidance typed by the user.
	Context string
	// History is the ranked chat history block.
	History          string
	ToneHint         string
	RelationshipHint string
	ParentContent    string
	EditInstructions string
	PreviousContent  string
	SeriesPosition   int
}

// GeneratedPost is the generator's answer
type GeneratedPost struct {
	Content   string
	ToneUsed  string
	Rationale string
	Audience  string
}

// ContentGenerator drafts posts from markdown
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GeneratedPost, error)
}

// PostPayload is what the record store keeps for an approved post
type PostPayload struct {
	UserID           int64  `json:"user_id" bson:"user_id"`
	SeriesID         string `json:"series_id" bson:"series_id"`
	PostID           int    `json:"post_id" bson:"post_id"`
	Filename         string `json:"filename" bson:"filename"`
	Content          string `json:"content" bson:"content"`
	ToneUsed         string `json:"tone_used" bson:"tone_used"`
	RelationshipType string `json:"relationship_type,omitempty" bson:"relationship_type,omitempty"`
	ParentPostID     int    `json:"parent_post_id,omitempty" bson:"parent_post_id,omitempty"`
	Status           string `json:"status" bson:"status"`
}

// RecordStore persists approved posts outside the bot
type RecordStore interface {
	Persist(ctx context.Context, payload PostPayload) (string, error)
	ListSessions(ctx context.Context, userID int64) ([]SessionSummary, error)
}
