package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rrens/postbot/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			closer, err := Setup(config.LoggingConfig{Level: tt.level, Format: "json"})
			require.NoError(t, err)
			defer closer.Close()
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "postbot.log")

	closer, err := Setup(config.LoggingConfig{
		Level:        "info",
		Format:       "json",
		File:         path,
		MaxAge:       24 * time.Hour,
		RotationTime: time.Hour,
	})
	require.NoError(t, err)

	log.Info().Str("component", "test").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}
