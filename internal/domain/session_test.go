package domain_test

import (
	"testing"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestAddPost_AssignsSequentialIDs(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)

	for i := 1; i <= 4; i++ {
		p, err := s.AddPost(domain.Post{Content: "post", ToneUsed: "Build", CreatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, i, p.ID)
	}
	assert.Equal(t, 4, s.PostCount())
}

func TestAddPost_RejectsUnknownParent(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)
	_, err := s.AddPost(domain.Post{Content: "a"})
	require.NoError(t, err)

	_, err = s.AddPost(domain.Post{Content: "b", ParentPostID: intPtr(2)})
	assert.ErrorIs(t, err, domain.ErrUnknownParent)
	assert.Equal(t, 1, s.PostCount())

	p, err := s.AddPost(domain.Post{
		Content:          "b",
		ParentPostID:     intPtr(1),
		RelationshipType: strPtr(domain.RelationshipDifferentAspects),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.ID)
	assert.Equal(t, domain.RelationshipDifferentAspects, p.Relationship())
}

func TestReplacePostContent(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)
	_, _ = s.AddPost(domain.Post{Content: "first", ToneUsed: "Build", ExternalRecordID: strPtr("rec1")})

	require.NoError(t, s.ReplacePostContent(1, "rewritten", ""))
	p, ok := s.PostByID(1)
	require.True(t, ok)
	assert.Equal(t, "rewritten", p.Content)
	assert.Equal(t, "Build", p.ToneUsed)
	assert.Nil(t, p.ExternalRecordID)

	assert.ErrorIs(t, s.ReplacePostContent(9, "x", ""), domain.ErrPostNotFound)
}

func TestSetSource_Immutable(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)
	require.NoError(t, s.SetSource("# P", "p.md"))
	assert.ErrorIs(t, s.SetSource("# Q", "q.md"), domain.ErrSourceImmutable)
	assert.Equal(t, "p.md", s.Source.Filename)
}

func TestEnter_StampsAwaitingStates(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)
	later := now.Add(time.Minute)

	s.Enter(domain.StateAwaitingFileContext, later)
	assert.Equal(t, later, s.LastActivity)

	s.Enter(domain.StateIdle, later.Add(time.Minute))
	assert.Equal(t, later, s.LastActivity)
	assert.True(t, s.State.IsIdle())
}

func TestClone_IsIndependent(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)
	_ = s.SetSource("# P", "p.md")
	_, _ = s.AddPost(domain.Post{Content: "a", ToneUsed: "Build"})
	s.AddInteraction(domain.Interaction{
		Timestamp:    now,
		UserMessage:  "hi",
		MessageType:  domain.MessageFreeChat,
		Context:      map[string]string{"tone": "Build"},
		Satisfaction: floatPtr(0.9),
	})
	s.Pending = &domain.PendingGeneration{ParentPostID: intPtr(1)}
	s.Preferences.Record("Build", "engineers", "a")

	c := s.Clone()
	c.Posts[0].Content = "changed"
	c.ChatHistory[0].Context["tone"] = "Other"
	*c.ChatHistory[0].Satisfaction = 0.1
	*c.Pending.ParentPostID = 7
	c.Source.Filename = "other.md"
	c.Preferences.Record("Build", "", "b")

	assert.Equal(t, "a", s.Posts[0].Content)
	assert.Equal(t, "Build", s.ChatHistory[0].Context["tone"])
	assert.Equal(t, 0.9, *s.ChatHistory[0].Satisfaction)
	assert.Equal(t, 1, *s.Pending.ParentPostID)
	assert.Equal(t, "p.md", s.Source.Filename)
	assert.Equal(t, 1, s.Preferences.ToneCounts["Build"])
}

func TestSummary(t *testing.T) {
	s := domain.NewSession(1, "series-1", now)
	_ = s.SetSource("# P", "p.md")
	_, _ = s.AddPost(domain.Post{Content: "a"})
	s.AddInteraction(domain.Interaction{UserMessage: "x"})

	sum := s.Summary()
	assert.Equal(t, domain.SessionSummary{
		UserID:           1,
		SeriesID:         "series-1",
		Filename:         "p.md",
		PostCount:        1,
		InteractionCount: 1,
		LastActivity:     now,
	}, sum)
}

func TestRelationshipStrength(t *testing.T) {
	tests := []struct {
		rel  string
		want domain.Strength
	}{
		{domain.RelationshipSeriesContinuation, domain.StrengthStrong},
		{domain.RelationshipSequentialStory, domain.StrengthStrong},
		{domain.RelationshipTechnicalDeepDive, domain.StrengthStrong},
		{domain.RelationshipDifferentAspects, domain.StrengthMedium},
		{domain.RelationshipDifferentAngles, domain.StrengthMedium},
		{domain.RelationshipThematicConnection, domain.StrengthWeak},
		{"Something Else", domain.StrengthWeak},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.RelationshipStrength(tt.rel), tt.rel)
	}
	assert.False(t, domain.IsKnownRelationship("Something Else"))
	assert.Len(t, domain.RelationshipTypes, 6)
}

func TestUserPreferences(t *testing.T) {
	p := domain.UserPreferences{}
	p.Record("Build", "engineers", "short post")
	p.Record("Build", "", string(make([]rune, 600)))
	p.Record("Deep Dive", "managers", string(make([]rune, 1500)))

	assert.Equal(t, 2, p.ToneCounts["Build"])
	assert.Equal(t, 1, p.AudienceCounts["engineers"])
	assert.Equal(t, map[string]int{"short": 1, "medium": 1, "long": 1}, p.LengthCounts)
	assert.Equal(t, "Build", p.FavoriteTone())

	merged := domain.NewUserPreferences()
	merged.Merge(p)
	merged.Merge(p)
	assert.Equal(t, 4, merged.ToneCounts["Build"])
	assert.Equal(t, "", domain.NewUserPreferences().FavoriteTone())
}

func TestCollectUserStats(t *testing.T) {
	a := domain.NewSession(1, "a", now)
	_, _ = a.AddPost(domain.Post{Content: "x"})
	a.AddInteraction(domain.Interaction{Satisfaction: floatPtr(1)})
	a.AddInteraction(domain.Interaction{})

	b := domain.NewSession(1, "b", now)
	b.AddInteraction(domain.Interaction{Satisfaction: floatPtr(0.5)})

	stats := domain.CollectUserStats(1, []*domain.Session{a, b})
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.TotalPosts)
	assert.Equal(t, 3, stats.TotalInteractions)
	assert.InDelta(t, 0.75, stats.AverageSatisfaction, 1e-9)

	empty := domain.CollectUserStats(2, nil)
	assert.Equal(t, int64(2), empty.UserID)
	assert.Zero(t, empty.AverageSatisfaction)
}
