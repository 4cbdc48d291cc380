package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	store.now = func() time.Time { return base }
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSession(userID int64, seriesID string, lastActivity time.Time) *domain.Session {
	s := domain.NewSession(userID, seriesID, lastActivity)
	_ = s.SetSource("# P", "p.md")
	_, _ = s.AddPost(domain.Post{Content: "first", ToneUsed: "Build", CreatedAt: lastActivity})
	parent := 1
	rel := domain.RelationshipDifferentAspects
	_, _ = s.AddPost(domain.Post{Content: "second", ToneUsed: "Deep Dive", ParentPostID: &parent, RelationshipType: &rel, CreatedAt: lastActivity})
	s.AddInteraction(domain.Interaction{Timestamp: lastActivity, UserMessage: "p.md", MessageType: domain.MessageFileUpload})
	s.Preferences.Record("Build", "engineers", "first")
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	s := sampleSession(1, "series-a", base)
	s.Enter(domain.StateAwaitingRelationshipSelection, base)
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Load(ctx, 1, "series-a")
	require.NoError(t, err)
	assert.Equal(t, "p.md", got.Source.Filename)
	assert.Equal(t, 2, got.PostCount())
	assert.Equal(t, domain.StateAwaitingRelationshipSelection, got.State)
	require.NotNil(t, got.Posts[1].ParentPostID)
	assert.Equal(t, 1, *got.Posts[1].ParentPostID)
	assert.Equal(t, domain.RelationshipDifferentAspects, got.Posts[1].Relationship())
	assert.True(t, base.Equal(got.LastActivity))

	// second save updates in place
	_, _ = s.AddPost(domain.Post{Content: "third"})
	require.NoError(t, store.Save(ctx, s))
	got, err = store.Load(ctx, 1, "series-a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.PostCount())
}

func TestStore_SaveRejectsMissingKeys(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.Save(ctx, domain.NewSession(1, "", base))
	assert.ErrorIs(t, err, domain.ErrMissingSeriesID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	err = store.Save(ctx, domain.NewSession(0, "series", base))
	assert.ErrorIs(t, err, domain.ErrMissingUserID)
}

func TestStore_LoadMissing(t *testing.T) {
	store := newStore(t)
	_, err := store.Load(context.Background(), 1, "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.LoadLatest(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_LatestAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession(1, "old", base.Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, sampleSession(1, "new", base)))
	require.NoError(t, store.Save(ctx, sampleSession(2, "other", base)))

	latest, err := store.LoadLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.SeriesID)

	list, err := store.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].SeriesID)
	assert.Equal(t, "old", list[1].SeriesID)
	assert.Equal(t, 2, list[0].PostCount)
	assert.Equal(t, "p.md", list[0].Filename)

	require.NoError(t, store.Delete(ctx, 1, "old"))
	list, err = store.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_Preferences(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	prefs, err := store.LoadPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, prefs.ToneCounts)

	require.NoError(t, store.Save(ctx, sampleSession(1, "a", base)))
	prefs, err = store.LoadPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, prefs.ToneCounts["Build"])
	assert.Equal(t, 1, prefs.AudienceCounts["engineers"])
}

func TestStore_UserStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	s := sampleSession(1, "a", base)
	score := 0.8
	s.AddInteraction(domain.Interaction{Timestamp: base, UserMessage: "great", MessageType: domain.MessageFeedback, Satisfaction: &score})
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Save(ctx, sampleSession(1, "b", base)))

	stats, err := store.UserStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 4, stats.TotalPosts)
	assert.Equal(t, 3, stats.TotalInteractions)
	assert.InDelta(t, 0.8, stats.AverageSatisfaction, 1e-9)
}

func TestStore_Cleanup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession(1, "stale", base.Add(-48*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleSession(1, "fresh", base.Add(-time.Hour))))

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Load(ctx, 1, "stale")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = store.Load(ctx, 1, "fresh")
	assert.NoError(t, err)
}

func TestStore_Backup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleSession(1, "a", base)))

	dest := filepath.Join(t.TempDir(), "backups", "sessions-backup.db")
	require.NoError(t, store.Backup(ctx, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	restored, err := Open(ctx, dest)
	require.NoError(t, err)
	defer restored.Close()
	got, err := restored.Load(ctx, 1, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.PostCount())

	assert.Error(t, store.Backup(ctx, dest))
}

func TestStore_ConcurrentSaves(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	const users = 16
	var wg sync.WaitGroup
	errs := make(chan error, users*3)

	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			s := sampleSession(userID, fmt.Sprintf("series-%d", userID), base)
			for round := 0; round < 3; round++ {
				s.AddInteraction(domain.Interaction{
					Timestamp:   base,
					UserMessage: fmt.Sprintf("user %d round %d", userID, round),
					MessageType: domain.MessageFreeChat,
				})
				errs <- store.Save(ctx, s)
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for i := int64(1); i <= users; i++ {
		got, err := store.Load(ctx, i, fmt.Sprintf("series-%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, got.UserID)
		assert.Equal(t, 2, got.PostCount())
		require.Len(t, got.ChatHistory, 4)
		assert.Equal(t, fmt.Sprintf("user %d round 2", i), got.ChatHistory[3].UserMessage)

		prefs, err := store.LoadPreferences(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, 1, prefs.ToneCounts["Build"])
	}
}
