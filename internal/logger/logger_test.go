package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	assert := assert.New(t)
	defer SetDebug(false)

	assert.NoError(SetLevel("debug"))
	assert.Equal(slog.LevelDebug, levelVar.Level())

	assert.NoError(SetLevel("WARN"))
	assert.Equal(slog.LevelWarn, levelVar.Level())

	assert.NoError(SetLevel(""))
	assert.Equal(slog.LevelInfo, levelVar.Level())

	assert.Error(SetLevel("loud"))
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hub.log")
	require.NoError(t, Init(path))
	defer Close()

	WithComponent("test").Info("hello", "k", "v")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=test")
	assert.Contains(t, string(data), "hello")
}

func TestGetDefaultsToStderr(t *testing.T) {
	Close()
	l := Get()
	require.NotNil(t, l)
	assert.Same(t, l, Get())
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
}
