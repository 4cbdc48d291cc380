package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/prioritizer"
	"github.com/Rrens/postbot/internal/repository/sqlite"
	"github.com/Rrens/postbot/internal/session"
	"github.com/Rrens/postbot/internal/textnorm"
	"github.com/Rrens/postbot/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testUser int64 = 1

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestBot(t *testing.T, records domain.RecordStore) (*Bot, *MockGenerator, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	registry := NewRegistry(newTestStore(t), nil)
	registry.now = clock.Now

	machine := session.NewMachine(session.DefaultTimeout, session.DefaultMaxInputChars).WithClock(clock.Now)
	prio := prioritizer.New(1500)
	prio.Now = clock.Now

	gen := new(MockGenerator)
	return NewBot(registry, machine, gen, records, prio), gen, clock
}

func handle(t *testing.T, b *Bot, ev Event) []Reply {
	t.Helper()
	if ev.UserID == 0 {
		ev.UserID = testUser
	}
	replies, err := b.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.NotEmpty(t, replies)
	return replies
}

func upload(t *testing.T, b *Bot, markdown, filename string) []Reply {
	return handle(t, b, Event{
		Kind:     session.EventFileUploaded,
		Document: &domain.SourceDocument{Markdown: markdown, Filename: filename},
	})
}

func press(t *testing.T, b *Bot, action session.Action, value string) []Reply {
	return handle(t, b, Event{Kind: session.EventButton, Action: action, Value: value})
}

func say(t *testing.T, b *Bot, text string) []Reply {
	return handle(t, b, Event{Kind: session.EventFreeText, Text: text})
}

func current(t *testing.T, b *Bot) *domain.Session {
	t.Helper()
	s, ok := b.registry.Get(context.Background(), testUser)
	require.True(t, ok)
	return s
}

func hasAction(opts []Option, action session.Action) bool {
	for _, o := range opts {
		if o.Action == action {
			return true
		}
	}
	return false
}

func TestBot_SeriesWithFollowup(t *testing.T) {
	records := new(MockRecordStore)
	b, gen, _ := newTestBot(t, records)

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return req.Markdown == "# P" && req.ParentContent == ""
	})).Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return req.ParentContent == "A" &&
			req.RelationshipHint == domain.RelationshipDifferentAspects &&
			req.Context == "focus on testing"
	})).Return(&domain.GeneratedPost{Content: "B", ToneUsed: "Deep Dive"}, nil).Once()

	records.On("Persist", mock.Anything, mock.MatchedBy(func(p domain.PostPayload) bool {
		return p.PostID == 1 && p.Filename == "p.md" && p.ParentPostID == 0
	})).Return("rec-1", nil).Once()
	records.On("Persist", mock.Anything, mock.MatchedBy(func(p domain.PostPayload) bool {
		return p.PostID == 2 && p.ParentPostID == 1 && p.RelationshipType == domain.RelationshipDifferentAspects
	})).Return("rec-2", nil).Once()

	replies := upload(t, b, "# P", "p.md")
	assert.True(t, hasAction(replies[0].Options, session.ActionSkipContext))
	assert.Equal(t, domain.StateAwaitingFileContext, current(t, b).State)

	replies = press(t, b, session.ActionSkipContext, "")
	assert.True(t, hasAction(replies[0].Options, session.ActionApprove))
	require.NotNil(t, current(t, b).Draft)

	replies = press(t, b, session.ActionApprove, "")
	assert.True(t, hasAction(replies[0].Options, session.ActionNewPost))

	press(t, b, session.ActionNewPost, "")
	assert.Equal(t, domain.StateAwaitingRelationshipSelection, current(t, b).State)

	press(t, b, session.ActionRelationship, domain.RelationshipDifferentAspects)
	assert.Equal(t, domain.StateAwaitingPreviousPostSelection, current(t, b).State)

	press(t, b, session.ActionParent, "1")
	assert.Equal(t, domain.StateAwaitingFollowupContext, current(t, b).State)

	replies = say(t, b, "focus on testing")
	assert.True(t, hasAction(replies[0].Options, session.ActionConfirm))
	assert.Equal(t, domain.StateAwaitingGenerationConfirmation, current(t, b).State)

	press(t, b, session.ActionConfirm, "")
	s := current(t, b)
	assert.Equal(t, domain.StateIdle, s.State)
	assert.Nil(t, s.Pending)

	press(t, b, session.ActionApprove, "")

	s = current(t, b)
	require.Len(t, s.Posts, 2)
	assert.Equal(t, "rec-1", *s.Posts[0].ExternalRecordID)
	assert.Equal(t, "rec-2", *s.Posts[1].ExternalRecordID)

	forest := tree.Build(s.Posts)
	assert.Equal(t, []int{1}, forest.Roots)
	assert.Equal(t, map[int][]int{1: {2}}, forest.Children)

	stats := tree.Statistics(s.Posts)
	assert.Equal(t, 2, stats.TotalPosts)
	assert.Equal(t, map[string]int{"Build": 1, "Deep Dive": 1}, stats.ToneDistribution)
	assert.Equal(t, []string{domain.RelationshipDifferentAspects}, stats.RelationshipTypes)

	stored, err := b.registry.Store().Load(context.Background(), testUser, s.SeriesID)
	require.NoError(t, err)
	assert.Len(t, stored.Posts, 2)
	assert.Equal(t, 2, stored.Preferences.ToneCounts["Build"]+stored.Preferences.ToneCounts["Deep Dive"])

	gen.AssertExpectations(t)
	records.AssertExpectations(t)
}

func TestBot_ContextTextReachesGenerator(t *testing.T) {
	b, gen, _ := newTestBot(t, nil)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return req.Context == "for managers" && req.SeriesPosition == 1
	})).Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil).Once()

	upload(t, b, "# P", "p.md")
	say(t, b, "  for managers ")

	s := current(t, b)
	require.NotNil(t, s.Draft)
	assert.Equal(t, "A", s.Draft.Content)
	gen.AssertExpectations(t)
}

func TestBot_ApproveRollsBackWhenRecordStoreFails(t *testing.T) {
	records := new(MockRecordStore)
	b, gen, _ := newTestBot(t, records)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)
	records.On("Persist", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("%w: airtable down", domain.ErrCollaborator))

	upload(t, b, "# P", "p.md")
	press(t, b, session.ActionSkipContext, "")
	before := len(current(t, b).ChatHistory)

	replies := press(t, b, session.ActionApprove, "")
	assert.Equal(t, textnorm.Escape(msgFailure), replies[0].Text)

	s := current(t, b)
	assert.Empty(t, s.Posts)
	require.NotNil(t, s.Draft)
	assert.Equal(t, "A", s.Draft.Content)
	assert.Len(t, s.ChatHistory, before)
	assert.Empty(t, s.Preferences.ToneCounts)
}

func TestBot_GenerationFailureRestoresState(t *testing.T) {
	b, gen, _ := newTestBot(t, nil)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: provider timeout", domain.ErrCollaborator))

	upload(t, b, "# P", "p.md")
	replies := press(t, b, session.ActionSkipContext, "")

	assert.Equal(t, textnorm.Escape(msgFailure), replies[0].Text)
	s := current(t, b)
	assert.Equal(t, domain.StateAwaitingFileContext, s.State)
	assert.Nil(t, s.Draft)
}

func TestBot_Timeout(t *testing.T) {
	t.Run("expired flow resets", func(t *testing.T) {
		b, gen, clock := newTestBot(t, nil)
		upload(t, b, "# P", "p.md")

		clock.Advance(session.DefaultTimeout + time.Second)
		replies := say(t, b, "late context")

		assert.Equal(t, textnorm.Escape(msgTimeout), replies[0].Text)
		assert.Equal(t, domain.StateIdle, current(t, b).State)
		gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("exactly at the limit is still valid", func(t *testing.T) {
		b, gen, clock := newTestBot(t, nil)
		gen.On("Generate", mock.Anything, mock.Anything).
			Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)
		upload(t, b, "# P", "p.md")

		clock.Advance(session.DefaultTimeout)
		say(t, b, "context")

		assert.NotNil(t, current(t, b).Draft)
	})

	t.Run("new upload after timeout starts a new series", func(t *testing.T) {
		b, _, clock := newTestBot(t, nil)
		upload(t, b, "# P", "p.md")
		first := current(t, b).SeriesID

		clock.Advance(time.Hour)
		upload(t, b, "# Q", "q.md")

		s := current(t, b)
		assert.NotEqual(t, first, s.SeriesID)
		assert.Equal(t, "q.md", s.Source.Filename)
		assert.Equal(t, domain.StateAwaitingFileContext, s.State)
	})
}

func TestBot_FreeTextValidation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want textnorm.DisplaySafeText
	}{
		{"blank", "   ", textnorm.Escape(msgEmptyInput)},
		{"too long", strings.Repeat("a", session.DefaultMaxInputChars+1), textnorm.Escape(fmt.Sprintf(msgInputTooLong, session.DefaultMaxInputChars))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, gen, _ := newTestBot(t, nil)
			upload(t, b, "# P", "p.md")

			replies := say(t, b, tt.text)
			assert.Equal(t, tt.want, replies[0].Text)
			assert.Equal(t, domain.StateAwaitingFileContext, current(t, b).State)
			gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		})
	}
}

func TestBot_RegenerateApprovedPostKeepsID(t *testing.T) {
	records := new(MockRecordStore)
	b, gen, _ := newTestBot(t, records)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return req.PreviousContent == ""
	})).Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return req.PreviousContent == "A" && req.EditInstructions == "shorter"
	})).Return(&domain.GeneratedPost{Content: "A2", ToneUsed: "Build"}, nil).Once()
	records.On("Persist", mock.Anything, mock.MatchedBy(func(p domain.PostPayload) bool {
		return p.PostID == 1
	})).Return("rec-1", nil).Twice()

	upload(t, b, "# P", "p.md")
	press(t, b, session.ActionSkipContext, "")
	press(t, b, session.ActionApprove, "")

	press(t, b, session.ActionEditStory, "")
	assert.Equal(t, domain.StateAwaitingStoryEdits, current(t, b).State)
	say(t, b, "shorter")

	s := current(t, b)
	require.NotNil(t, s.Draft)
	require.NotNil(t, s.Draft.ReplacesPostID)
	assert.Equal(t, 1, *s.Draft.ReplacesPostID)

	press(t, b, session.ActionApprove, "")
	s = current(t, b)
	require.Len(t, s.Posts, 1)
	assert.Equal(t, "A2", s.Posts[0].Content)
	assert.Equal(t, domain.MessageStoryEdit, s.ChatHistory[len(s.ChatHistory)-2].MessageType)

	gen.AssertExpectations(t)
	records.AssertExpectations(t)
}

func TestBot_Selections(t *testing.T) {
	b, gen, _ := newTestBot(t, nil)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)

	upload(t, b, "# P", "p.md")
	press(t, b, session.ActionSkipContext, "")
	press(t, b, session.ActionApprove, "")
	press(t, b, session.ActionNewPost, "")
	press(t, b, session.ActionRelationship, domain.RelationshipSequentialStory)

	replies := press(t, b, session.ActionParent, "99")
	assert.Equal(t, textnorm.Escape(msgInvalidChoice), replies[0].Text)
	assert.Equal(t, domain.StateAwaitingPreviousPostSelection, current(t, b).State)

	press(t, b, session.ActionParent, parentRecent)
	s := current(t, b)
	require.NotNil(t, s.Pending)
	require.NotNil(t, s.Pending.ParentPostID)
	assert.Equal(t, 1, *s.Pending.ParentPostID)
	assert.Equal(t, domain.RelationshipSequentialStory, s.Pending.RelationshipType)

	press(t, b, session.ActionCancel, "")
	s = current(t, b)
	assert.Equal(t, domain.StateIdle, s.State)
	assert.Nil(t, s.Pending)
}

func TestBot_NewPostNeedsApprovedPost(t *testing.T) {
	b, _, _ := newTestBot(t, nil)
	upload(t, b, "# P", "p.md")
	press(t, b, session.ActionCancel, "")

	replies := press(t, b, session.ActionNewPost, "")
	assert.Equal(t, textnorm.Escape(msgNeedPost), replies[0].Text)
	assert.Equal(t, domain.StateIdle, current(t, b).State)
}

func TestBot_UnmatchedEvents(t *testing.T) {
	t.Run("free chat without source", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		replies := say(t, b, "hello")

		assert.Equal(t, textnorm.Escape(msgFreeChatNoSource), replies[0].Text)
		s := current(t, b)
		require.Len(t, s.ChatHistory, 1)
		assert.Equal(t, domain.MessageFreeChat, s.ChatHistory[0].MessageType)
	})

	t.Run("stale button", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		replies := press(t, b, session.ActionConfirm, "")
		assert.Equal(t, textnorm.Escape(msgStaleButton), replies[0].Text)
	})

	t.Run("approve without draft", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		replies := press(t, b, session.ActionApprove, "")
		assert.Equal(t, textnorm.Escape(msgNothingToApprove), replies[0].Text)
	})

	t.Run("event without user", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		_, err := b.Handle(context.Background(), Event{Kind: session.EventFreeText, Text: "x"})
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}

func TestBot_Rate(t *testing.T) {
	b, gen, _ := newTestBot(t, nil)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)

	upload(t, b, "# P", "p.md")
	press(t, b, session.ActionSkipContext, "")
	press(t, b, session.ActionApprove, "")

	replies := press(t, b, session.ActionRate, "1")
	assert.Equal(t, textnorm.Escape(msgRated), replies[0].Text)

	replies = press(t, b, session.ActionRate, "7")
	assert.Equal(t, textnorm.Escape(msgInvalidChoice), replies[0].Text)

	stats, err := b.registry.Store().UserStats(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats.AverageSatisfaction)
	assert.Equal(t, 1, stats.TotalPosts)
}

func TestBot_Commands(t *testing.T) {
	t.Run("series and reset", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)

		replies := handle(t, b, Event{Command: "series"})
		assert.Equal(t, textnorm.Escape(msgNoPosts), replies[0].Text)

		upload(t, b, "# P", "p.md")
		replies = handle(t, b, Event{Command: "reset"})
		assert.Equal(t, textnorm.Escape(msgReset), replies[0].Text)
		assert.Equal(t, domain.StateIdle, current(t, b).State)
	})

	t.Run("unknown", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		replies := handle(t, b, Event{Command: "nope"})
		assert.Equal(t, textnorm.Escape(msgUnknownCommand), replies[0].Text)
	})

	t.Run("history from session store", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		upload(t, b, "# P", "p.md")

		replies := handle(t, b, Event{Command: "history"})
		assert.Contains(t, string(replies[0].Text), "p"+`\.`+"md")
	})

	t.Run("history from record store", func(t *testing.T) {
		records := new(MockRecordStore)
		records.On("ListSessions", mock.Anything, testUser).Return([]domain.SessionSummary{
			{UserID: testUser, SeriesID: "s1", Filename: "remote", PostCount: 3},
		}, nil)
		b, _, _ := newTestBot(t, records)

		replies := handle(t, b, Event{Command: "history"})
		assert.Contains(t, string(replies[0].Text), "remote: 3 posts")
		records.AssertExpectations(t)
	})

	t.Run("stats", func(t *testing.T) {
		b, gen, _ := newTestBot(t, nil)
		gen.On("Generate", mock.Anything, mock.Anything).
			Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)
		upload(t, b, "# P", "p.md")
		press(t, b, session.ActionSkipContext, "")
		press(t, b, session.ActionApprove, "")

		replies := handle(t, b, Event{Command: "stats"})
		assert.Contains(t, string(replies[0].Text), "This series: 1 posts")
		assert.Contains(t, string(replies[0].Text), "Most common tone: Build")
	})
}

func TestBot_UnknownRelationshipRejected(t *testing.T) {
	b, gen, _ := newTestBot(t, nil)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)

	upload(t, b, "# P", "p.md")
	press(t, b, session.ActionSkipContext, "")
	press(t, b, session.ActionApprove, "")
	press(t, b, session.ActionNewPost, "")

	replies := press(t, b, session.ActionRelationship, "Totally Bogus")
	assert.Equal(t, textnorm.Escape(msgInvalidChoice), replies[0].Text)

	s := current(t, b)
	assert.Equal(t, domain.StateAwaitingRelationshipSelection, s.State)
	if s.Pending != nil {
		assert.Empty(t, s.Pending.RelationshipType)
	}
}

func TestBot_LastActivityFollowsEveryInteraction(t *testing.T) {
	b, gen, clock := newTestBot(t, nil)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&domain.GeneratedPost{Content: "A", ToneUsed: "Build"}, nil)

	upload(t, b, "# P", "p.md")

	steps := []struct {
		name    string
		advance time.Duration
		action  session.Action
		value   string
	}{
		{"skip context", 3 * time.Minute, session.ActionSkipContext, ""},
		{"approve", 3 * time.Minute, session.ActionApprove, ""},
		{"rate", time.Hour, session.ActionRate, "1"},
		{"show series", time.Hour, session.ActionShowSeries, ""},
	}

	for _, step := range steps {
		clock.Advance(step.advance)
		press(t, b, step.action, step.value)
		assert.Equal(t, clock.Now(), current(t, b).LastActivity, step.name)
	}

	// the registry sees the same activity, so the session survives eviction
	assert.Equal(t, 0, b.registry.EvictIdle(time.Hour))
}

func TestBot_FreeChatTooLong(t *testing.T) {
	b, _, _ := newTestBot(t, nil)

	replies := say(t, b, strings.Repeat("a", session.DefaultMaxInputChars+1))
	assert.Equal(t, textnorm.Escape(fmt.Sprintf(msgInputTooLong, session.DefaultMaxInputChars)), replies[0].Text)
	assert.Empty(t, current(t, b).ChatHistory)
}

func TestBot_ConcurrentEviction(t *testing.T) {
	b, _, _ := newTestBot(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.registry.EvictIdle(-time.Minute)
				b.registry.EvictIdle(time.Hour)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := b.Handle(ctx, Event{
			UserID:   testUser,
			Kind:     session.EventFileUploaded,
			Document: &domain.SourceDocument{Markdown: "# P", Filename: "p.md"},
		})
		assert.NoError(t, err)
		_, err = b.Handle(ctx, Event{UserID: testUser, Kind: session.EventButton, Action: session.ActionCancel})
		assert.NoError(t, err)
	}

	close(stop)
	wg.Wait()
}
