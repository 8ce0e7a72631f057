package logger

import (
	"os"
	"path/filepath"
	"testing"

	"binary-options-sim/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("Console", func(t *testing.T) {
		log, err := NewLogger("debug", "console")
		require.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger("loud", "json")
		assert.Error(t, err)
	})
}

func TestNewFromConfig_File(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "engine.log")
	log, err := NewFromConfig(config.Logger{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	// Act
	log.Info("trade settled")
	_ = log.Sync()

	// Assert
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "trade settled")
}
