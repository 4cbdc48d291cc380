package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionCache is a hot copy of each user's active session
type SessionCache interface {
	Get(ctx context.Context, userID int64) (*domain.Session, error)
	Set(ctx context.Context, s *domain.Session) error
	Invalidate(ctx context.Context, userID int64) error
}

// Registry owns the active session of every user. Lookups go to memory,
// then the cache, then the store.
//
// Session contents belong to the caller holding the user's lock. lastSeen is
// guarded by mu and is the only activity stamp eviction looks at.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*domain.Session
	lastSeen map[int64]time.Time
	store    domain.SessionRepository
	cache    SessionCache
	now      func() time.Time
}

// NewRegistry creates a registry. cache may be nil.
func NewRegistry(store domain.SessionRepository, cache SessionCache) *Registry {
	return &Registry{
		sessions: make(map[int64]*domain.Session),
		lastSeen: make(map[int64]time.Time),
		store:    store,
		cache:    cache,
		now:      time.Now,
	}
}

// Store returns the backing session repository
func (r *Registry) Store() domain.SessionRepository {
	return r.store
}

// Get returns the active session of a user if one exists anywhere
func (r *Registry) Get(ctx context.Context, userID int64) (*domain.Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if ok {
		return s, true
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Session cache read failed")
		} else if cached != nil {
			return r.remember(cached), true
		}
	}

	stored, err := r.store.LoadLatest(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load session")
		}
		return nil, false
	}
	return r.remember(stored), true
}

// GetOrCreate returns the active session, starting a new series if the user has none
func (r *Registry) GetOrCreate(ctx context.Context, userID int64) *domain.Session {
	if s, ok := r.Get(ctx, userID); ok {
		return s
	}
	return r.Create(ctx, userID)
}

// Create starts a new series for the user and makes it active.
// Preferences carry over from earlier series.
func (r *Registry) Create(ctx context.Context, userID int64) *domain.Session {
	s := domain.NewSession(userID, uuid.NewString(), r.now())

	prefs, err := r.store.LoadPreferences(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to load preferences")
	} else {
		s.Preferences.Merge(prefs)
	}

	r.mu.Lock()
	r.sessions[userID] = s
	r.lastSeen[userID] = s.LastActivity
	r.mu.Unlock()

	log.Info().Int64("user_id", userID).Str("series_id", s.SeriesID).Msg("Series started")
	return s
}

// Save persists the session and refreshes the cache.
// The in-memory copy stays active even when the store fails.
// Callers hold the user's lock.
func (r *Registry) Save(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	if r.sessions[s.UserID] == s {
		r.lastSeen[s.UserID] = s.LastActivity
	}
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Set(ctx, s); err != nil {
			log.Warn().Err(err).Int64("user_id", s.UserID).Msg("Session cache write failed")
		}
	}
	return r.store.Save(ctx, s)
}

// Evict drops the in-memory and cached copy of a user's session
func (r *Registry) Evict(ctx context.Context, userID int64) {
	r.mu.Lock()
	delete(r.sessions, userID)
	delete(r.lastSeen, userID)
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, userID); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Session cache invalidate failed")
		}
	}
}

// EvictIdle drops in-memory sessions idle for longer than maxIdle and
// returns how many were dropped. Stored copies are untouched.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.sessions {
		if r.lastSeen[id].Before(cutoff) {
			delete(r.sessions, id)
			delete(r.lastSeen, id)
			n++
		}
	}
	return n
}

// Active returns the number of sessions held in memory
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) remember(s *domain.Session) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	// a concurrent lookup may have won the race
	if existing, ok := r.sessions[s.UserID]; ok {
		return existing
	}
	r.sessions[s.UserID] = s
	r.lastSeen[s.UserID] = s.LastActivity
	return s
}
