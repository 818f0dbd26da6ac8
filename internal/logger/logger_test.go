package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"panic": zapcore.PanicLevel,
		"fatal": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestLevelFromVerbosity checks the -v count to level mapping used by the CLIs.
func TestLevelFromVerbosity(t *testing.T) {
	t.Parallel()

	require.Equal(t, zapcore.WarnLevel, LevelFromVerbosity(0))
	require.Equal(t, zapcore.InfoLevel, LevelFromVerbosity(1))
	require.Equal(t, zapcore.DebugLevel, LevelFromVerbosity(2))
	require.Equal(t, zapcore.DebugLevel, LevelFromVerbosity(5))
}

// TestFromContext ensures context helpers return the stored logger and fall back to global.
func TestFromContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.Same(t, Logger(), FromContext(ctx))

	named := FromContext(WithName(ctx, "mwpkg-build"))
	require.NotNil(t, named)
	require.NotSame(t, Logger(), named)
}
