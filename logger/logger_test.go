package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeConsole(t *testing.T) {
	require.NoError(t, Initialize(false, "debug"))
	require.NotNil(t, Logger)
	assert.False(t, JSONOutput)

	// Must not panic
	Debugw("debug message", "key", "value")
	Infow("info message", "key", "value")
	Cleanup()
}

func TestInitializeJSON(t *testing.T) {
	require.NoError(t, Initialize(true, ""))
	require.NotNil(t, Logger)
	assert.True(t, JSONOutput)
	Cleanup()
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, SetLevel("warn"))
	require.NoError(t, SetLevel(""))
	assert.Error(t, SetLevel("shouting"))
}

func TestUninitializedLoggerDoesNotPanic(t *testing.T) {
	// The package-level no-op logger covers use before Initialize
	Infow("before init")
	Warnw("before init")
	Errorw("before init")
}
