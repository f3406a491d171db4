package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewZapLogger(zap.New(core)), logs
}

func TestZapLogger(t *testing.T) {
	t.Run("levels map to zap levels", func(t *testing.T) {
		logger, logs := newObservedLogger()

		logger.Debug("debug msg")
		logger.Info("info msg")
		logger.Warn("warn msg")
		logger.Error("error msg")

		entries := logs.All()
		require.Len(t, entries, 4)
		assert.Equal(t, zap.DebugLevel, entries[0].Level)
		assert.Equal(t, zap.InfoLevel, entries[1].Level)
		assert.Equal(t, zap.WarnLevel, entries[2].Level)
		assert.Equal(t, zap.ErrorLevel, entries[3].Level)
	})

	t.Run("key/value pairs become structured fields", func(t *testing.T) {
		logger, logs := newObservedLogger()

		logger.Info("events saved", "streamId", "cart-1", "count", 3)

		entries := logs.All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "cart-1", fields["streamId"])
		assert.EqualValues(t, 3, fields["count"])
	})

	t.Run("constructors", func(t *testing.T) {
		dev, err := NewDevelopment()
		require.NoError(t, err)
		assert.NotNil(t, dev)

		prod, err := NewProduction()
		require.NoError(t, err)
		assert.NotNil(t, prod)
	})
}
