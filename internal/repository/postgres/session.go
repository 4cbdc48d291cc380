package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ domain.SessionRepository = (*SessionRepository)(nil)

// SessionRepository implements domain.SessionRepository on a JSONB payload column
type SessionRepository struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
	now  func() time.Time
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool, now: time.Now}
}

// Ping verifies database connectivity
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	if session.UserID == 0 {
		return domain.ErrMissingUserID
	}
	if session.SeriesID == "" {
		return domain.ErrMissingSeriesID
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal session: %v", domain.ErrPersistence, err)
	}
	prefs, err := json.Marshal(session.Preferences)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal preferences: %v", domain.ErrPersistence, err)
	}

	filename := ""
	if session.Source != nil {
		filename = session.Source.Filename
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO sessions (user_id, series_id, state, filename, post_count, interaction_count, last_activity, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, series_id) DO UPDATE SET
			state = EXCLUDED.state,
			filename = EXCLUDED.filename,
			post_count = EXCLUDED.post_count,
			interaction_count = EXCLUDED.interaction_count,
			last_activity = EXCLUDED.last_activity,
			data = EXCLUDED.data
	`
	_, err = tx.Exec(ctx, query,
		session.UserID,
		session.SeriesID,
		string(session.State),
		filename,
		len(session.Posts),
		len(session.ChatHistory),
		session.LastActivity,
		session.CreatedAt,
		data,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save session: %v", domain.ErrPersistence, err)
	}

	query = `
		INSERT INTO user_preferences (user_id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, query, session.UserID, prefs, r.now()); err != nil {
		return fmt.Errorf("%w: failed to save preferences: %v", domain.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit session: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (r *SessionRepository) Load(ctx context.Context, userID int64, seriesID string) (*domain.Session, error) {
	query := `SELECT data FROM sessions WHERE user_id = $1 AND series_id = $2`
	return scanSession(r.pool.QueryRow(ctx, query, userID, seriesID))
}

func (r *SessionRepository) LoadLatest(ctx context.Context, userID int64) (*domain.Session, error) {
	query := `
		SELECT data FROM sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC, created_at DESC
		LIMIT 1
	`
	return scanSession(r.pool.QueryRow(ctx, query, userID))
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to load session: %v", domain.ErrPersistence, err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal session: %v", domain.ErrPersistence, err)
	}
	return &s, nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	query := `
		SELECT user_id, series_id, filename, post_count, interaction_count, last_activity
		FROM sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []domain.SessionSummary{}
	for rows.Next() {
		var s domain.SessionSummary
		if err := rows.Scan(
			&s.UserID,
			&s.SeriesID,
			&s.Filename,
			&s.PostCount,
			&s.InteractionCount,
			&s.LastActivity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *SessionRepository) Delete(ctx context.Context, userID int64, seriesID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `DELETE FROM sessions WHERE user_id = $1 AND series_id = $2`
	if _, err := r.pool.Exec(ctx, query, userID, seriesID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) LoadPreferences(ctx context.Context, userID int64) (domain.UserPreferences, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM user_preferences WHERE user_id = $1`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewUserPreferences(), nil
		}
		return domain.UserPreferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := domain.NewUserPreferences()
	if err := json.Unmarshal(data, &prefs); err != nil {
		return domain.UserPreferences{}, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return prefs, nil
}

func (r *SessionRepository) UserStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	sessions, err := r.querySessions(ctx, `SELECT data FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return domain.CollectUserStats(userID, sessions), nil
}

func (r *SessionRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *SessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var s domain.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return sessions, nil
}
