package logger

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFallsBackToInfoLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "not-a-level", Output: "console"}))
	assert.Equal(t, logrus.InfoLevel, GetLogger().Level)
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "build.log")
	require.NoError(t, Init(Config{Level: "debug", Output: "file", FilePath: path}))
	assert.Equal(t, logrus.DebugLevel, GetLogger().Level)
}

func TestDefaultLogFilePath(t *testing.T) {
	assert.Equal(t, "./logs/iosxrv.log", defaultLogFile)
}
