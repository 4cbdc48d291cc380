// Package sqlite is the default session store, backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id           INTEGER NOT NULL,
	series_id         TEXT    NOT NULL,
	state             TEXT    NOT NULL DEFAULT '',
	filename          TEXT    NOT NULL DEFAULT '',
	post_count        INTEGER NOT NULL DEFAULT 0,
	interaction_count INTEGER NOT NULL DEFAULT 0,
	last_activity     INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	data              TEXT    NOT NULL,
	PRIMARY KEY (user_id, series_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions (last_activity);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id    INTEGER PRIMARY KEY,
	data       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);
`

var _ domain.SessionRepository = (*Store)(nil)

// Store implements domain.SessionRepository
type Store struct {
	db   *sql.DB
	path string
	// SQLite has one writer; mu keeps Save/Delete/Cleanup from interleaving.
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (creating if needed) the database file and applies the schema
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save upserts the session and the user's preference record
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (user_id, series_id, state, filename, post_count, interaction_count, last_activity, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, series_id) DO UPDATE SET
			state = excluded.state,
			filename = excluded.filename,
			post_count = excluded.post_count,
			interaction_count = excluded.interaction_count,
			last_activity = excluded.last_activity,
			data = excluded.data
	`,
		session.UserID,
		session.SeriesID,
		string(session.State),
		filename,
		len(session.Posts),
		len(session.ChatHistory),
		session.LastActivity.UnixMilli(),
		session.CreatedAt.UnixMilli(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save session: %v", domain.ErrPersistence, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, session.UserID, string(prefs), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: failed to save preferences: %v", domain.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit session: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Load retrieves one series of a user
func (s *Store) Load(ctx context.Context, userID int64, seriesID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE user_id = ? AND series_id = ?`, userID, seriesID)
	return scanSession(row)
}

// LoadLatest retrieves the user's most recently active series
func (s *Store) LoadLatest(ctx context.Context, userID int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM sessions
		WHERE user_id = ?
		ORDER BY last_activity DESC, created_at DESC
		LIMIT 1
	`, userID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to load session: %v", domain.ErrPersistence, err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal session: %v", domain.ErrPersistence, err)
	}
	return &session, nil
}

// ListByUser returns summaries of every stored series, newest first
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, series_id, filename, post_count, interaction_count, last_activity
		FROM sessions
		WHERE user_id = ?
		ORDER BY last_activity DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		var lastActivity int64
		if err := rows.Scan(
			&sum.UserID,
			&sum.SeriesID,
			&sum.Filename,
			&sum.PostCount,
			&sum.InteractionCount,
			&lastActivity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.LastActivity = time.UnixMilli(lastActivity).UTC()
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes one series
func (s *Store) Delete(ctx context.Context, userID int64, seriesID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ? AND series_id = ?`, userID, seriesID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LoadPreferences returns the user's accumulated preferences, empty if none were saved
func (s *Store) LoadPreferences(ctx context.Context, userID int64) (domain.UserPreferences, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM user_preferences WHERE user_id = ?`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewUserPreferences(), nil
		}
		return domain.UserPreferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := domain.NewUserPreferences()
	if err := json.Unmarshal([]byte(data), &prefs); err != nil {
		return domain.UserPreferences{}, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return prefs, nil
}

// UserStats aggregates every stored series of a user
func (s *Store) UserStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	return domain.CollectUserStats(userID, sessions), nil
}

// Cleanup deletes sessions idle for longer than olderThan
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed sessions: %w", err)
	}
	return int(n), nil
}

// Backup writes a consistent copy of the database to destPath.
// The destination must not exist.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}
