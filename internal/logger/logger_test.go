package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.ErrorLevel, levelFromString("error"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nonsense"))
}

func TestNew_StdoutOnly(t *testing.T) {
	for _, dev := range []bool{true, false} {
		log, err := New(Config{Level: "warn", Dev: dev})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")
	log, err := New(Config{Level: "info", File: path, MaxAgeDays: 1})
	require.NoError(t, err)

	log.Sugar().Infof("Сервер запускается на порту %s", "8080")
	_ = log.Sync()

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, "{"), "file sink must be JSON: %s", line)
	assert.Contains(t, line, "8080")
}
