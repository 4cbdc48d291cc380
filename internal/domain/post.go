package domain

import "time"

// Relationship types a follow-up post can declare towards its parent
const (
	RelationshipDifferentAspects   = "Different Aspects"
	RelationshipDifferentAngles    = "Different Angles"
	RelationshipSeriesContinuation = "Series Continuation"
	RelationshipThematicConnection = "Thematic Connection"
	RelationshipTechnicalDeepDive  = "Technical Deep Dive"
	RelationshipSequentialStory    = "Sequential Story"
)

// RelationshipTypes lists the known relationship types in display order
var RelationshipTypes = []string{
	RelationshipDifferentAspects,
	RelationshipDifferentAngles,
	RelationshipSeriesContinuation,
	RelationshipThematicConnection,
	RelationshipTechnicalDeepDive,
	RelationshipSequentialStory,
}

// Strength classifies how tightly a follow-up depends on its parent
type Strength string

const (
	StrengthStrong Strength = "Strong"
	StrengthMedium Strength = "Medium"
	StrengthWeak   Strength = "Weak"
)

var relationshipStrengths = map[string]Strength{
	RelationshipSeriesContinuation: StrengthStrong,
	RelationshipSequentialStory:    StrengthStrong,
	RelationshipTechnicalDeepDive:  StrengthStrong,
	RelationshipDifferentAspects:   StrengthMedium,
	RelationshipDifferentAngles:    StrengthMedium,
	RelationshipThematicConnection: StrengthWeak,
}

// RelationshipStrength returns the strength of a relationship type; unknown types are weak
func RelationshipStrength(relationshipType string) Strength {
	if s, ok := relationshipStrengths[relationshipType]; ok {
		return s
	}
	return StrengthWeak
}

// IsKnownRelationship reports whether t is one of RelationshipTypes
func IsKnownRelationship(t string) bool {
	_, ok := relationshipStrengths[t]
	return ok
}

// Post is an accepted piece of content in a series
type Post struct {
	ID               int       `json:"post_id"`
	Content          string    `json:"content"`
	ToneUsed         string    `json:"tone_used"`
	RelationshipType *string   `json:"relationship_type,omitempty"`
	ParentPostID     *int      `json:"parent_post_id,omitempty"`
	ExternalRecordID *string   `json:"external_record_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (p Post) clone() Post {
	c := p
	c.RelationshipType = cloneString(p.RelationshipType)
	c.ParentPostID = cloneInt(p.ParentPostID)
	c.ExternalRecordID = cloneString(p.ExternalRecordID)
	return c
}

// Relationship returns the relationship label or ""
func (p Post) Relationship() string {
	if p.RelationshipType == nil {
		return ""
	}
	return *p.RelationshipType
}
