package postgres

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rrens/postbot/internal/domain"
)

// Snapshot is the gzip JSON document written by Backup
type Snapshot struct {
	Version   string            `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Sessions  []*domain.Session `json:"sessions"`
}

// Backup exports every session to a gzip-compressed JSON file at destPath.
// The destination must not exist.
func (r *SessionRepository) Backup(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	sessions, err := r.querySessions(ctx, `SELECT data FROM sessions ORDER BY user_id, created_at`)
	if err != nil {
		return err
	}

	return WriteSnapshot(destPath, Snapshot{
		Version:   "1",
		CreatedAt: r.now(),
		Sessions:  sessions,
	})
}

// WriteSnapshot writes snap to path as gzip JSON
func WriteSnapshot(path string, snap Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer file.Close()

	gzw := gzip.NewWriter(file)
	if err := json.NewEncoder(gzw).Encode(snap); err != nil {
		gzw.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("failed to flush backup: %w", err)
	}
	return file.Sync()
}

// ReadSnapshot loads a snapshot written by WriteSnapshot
func ReadSnapshot(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	defer gzr.Close()

	var snap Snapshot
	if err := json.NewDecoder(gzr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
