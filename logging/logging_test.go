package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")

	logger, err := New(Config{Level: "warn", Format: "json", Output: out})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("disk", "ftp1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "ftp1", entry["disk"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	logger, err := New(Config{Level: "chatty", Format: "console", Output: filepath.Join(t.TempDir(), "log")})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestMustPanicsOnBadOutput(t *testing.T) {
	assert.Panics(t, func() {
		Must(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "log")})
	})
}
