package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a no-op logger for tests
func NewTestLogger() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// NewTestLoggerWithT creates a test logger that writes to testing.T
func NewTestLoggerWithT(t testing.TB) *Logger {
	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	return &Logger{Logger: zaptest.NewLogger(t, zaptest.Level(level)), level: level}
}
