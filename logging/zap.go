// Package logging adapts zap to the strand.Logger interface.
package logging

import (
	"go.uber.org/zap"

	"github.com/strandhq/strand"
)

// Ensure ZapLogger implements the service logger interface.
var _ strand.Logger = (*ZapLogger)(nil)

// ZapLogger wraps a zap.SugaredLogger. The service logs key/value pairs,
// which map directly onto zap's sugared *w methods.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: logger.Sugar()}
}

// NewDevelopment creates a logger with a human-readable development config.
func NewDevelopment() (*ZapLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// NewProduction creates a logger with zap's JSON production config.
func NewProduction() (*ZapLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// Debug logs a debug message with key/value pairs.
func (l *ZapLogger) Debug(msg string, args ...interface{}) {
	l.sugar.Debugw(msg, args...)
}

// Info logs an info message with key/value pairs.
func (l *ZapLogger) Info(msg string, args ...interface{}) {
	l.sugar.Infow(msg, args...)
}

// Warn logs a warning message with key/value pairs.
func (l *ZapLogger) Warn(msg string, args ...interface{}) {
	l.sugar.Warnw(msg, args...)
}

// Error logs an error message with key/value pairs.
func (l *ZapLogger) Error(msg string, args ...interface{}) {
	l.sugar.Errorw(msg, args...)
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
