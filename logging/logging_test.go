package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/warp/stock-engine/config"
)

func TestNew_Levels(t *testing.T) {
	l, err := New(config.LoggerConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New(config.LoggerConfig{Development: true, Level: "bogus", Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestMust_FallsBackToNop(t *testing.T) {
	l := Must(config.LoggerConfig{Encoding: "no-such-encoder"})
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}
