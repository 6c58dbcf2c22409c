package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewProduction(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)

	entry := logger.Check(zapcore.InfoLevel, "boot")
	require.NotNil(t, entry)
	assert.Equal(t, "chimera", entry.LoggerName)

	assert.Nil(t, logger.Check(zapcore.DebugLevel, "boot"), "production stays at info")
}

func TestNewDevelopment(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)

	entry := logger.Check(zapcore.DebugLevel, "boot")
	require.NotNil(t, entry, "development enables debug")
	assert.Equal(t, "chimera", entry.LoggerName)
}
