package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rrens/postbot/internal/security"
	"github.com/rs/zerolog/log"
)

// MaintenanceReport is the outcome of one maintenance run
type MaintenanceReport struct {
	DeletedSessions int `json:"deleted_sessions"`
	EvictedSessions int `json:"evicted_sessions"`
}

// Maintainer prunes old sessions and takes backups
type Maintainer struct {
	registry  *Registry
	retention time.Duration
	idle      time.Duration
	backupDir string
	encryptor *security.Encryptor
	now       func() time.Time
}

// NewMaintainer creates a maintainer. Sessions older than retention are
// deleted from the store; in-memory copies idle for longer than idle are evicted.
func NewMaintainer(registry *Registry, retention, idle time.Duration, backupDir string) *Maintainer {
	return &Maintainer{
		registry:  registry,
		retention: retention,
		idle:      idle,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// WithEncryption makes Backup seal its output
func (m *Maintainer) WithEncryption(enc *security.Encryptor) *Maintainer {
	m.encryptor = enc
	return m
}

// Cleanup runs one pass. A zero retention uses the configured one.
func (m *Maintainer) Cleanup(ctx context.Context, retention time.Duration) (*MaintenanceReport, error) {
	if retention <= 0 {
		retention = m.retention
	}

	deleted, err := m.registry.Store().Cleanup(ctx, retention)
	if err != nil {
		return nil, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	report := &MaintenanceReport{
		DeletedSessions: deleted,
		EvictedSessions: m.registry.EvictIdle(m.idle),
	}

	log.Info().
		Int("deleted", report.DeletedSessions).
		Int("evicted", report.EvictedSessions).
		Dur("retention", retention).
		Msg("Session cleanup finished")
	return report, nil
}

// Backup writes a snapshot of the store into the backup directory and
// returns its path
func (m *Maintainer) Backup(ctx context.Context) (string, error) {
	if m.backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(m.backupDir, fmt.Sprintf("sessions-%s.bak", m.now().UTC().Format("20060102-150405")))
	if err := m.registry.Store().Backup(ctx, path); err != nil {
		return "", err
	}

	if m.encryptor != nil {
		sealed := path + ".enc"
		if err := m.encryptor.EncryptFile(path, sealed); err != nil {
			return "", fmt.Errorf("failed to encrypt backup: %w", err)
		}
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove plaintext backup")
		}
		path = sealed
	}

	log.Info().Str("path", path).Msg("Session backup written")
	return path, nil
}

// Run cleans up every interval until ctx is done
func (m *Maintainer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx, 0); err != nil {
				log.Error().Err(err).Msg("Scheduled cleanup failed")
			}
		}
	}
}
