package logging

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("writes rotated file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "settlement.log")
		logger, err := New(Config{Level: "debug", File: file})
		require.NoError(t, err)
		logger.Info("hello")
		_ = logger.Sync()
		assert.FileExists(t, file)
	})
}

func TestZapLoggerAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapLogger(zap.New(core))

	adapter.Warn("Settlement network unavailable",
		ports.String("batch_id", "b1"),
		ports.Int("attempt", 2),
		ports.Strings("records", []string{"r1", "r2"}),
		ports.Duration("elapsed", time.Second),
		ports.Err(errors.New("refused")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	ctx := entry.ContextMap()
	assert.Equal(t, "b1", ctx["batch_id"])
	assert.Equal(t, int64(2), ctx["attempt"])
	assert.Equal(t, "refused", ctx["error"])
}
