package logger

import (
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how the logger is built.
type Options struct {
	Level      string
	Format     string // "json" or "console"
	Color      bool
	TimeFormat string
	Disable    bool

	// File switches output from stdout to a rotated log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a wrapper around zap.Logger with a runtime-adjustable level
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New creates a new logger instance
func New(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if opts.Disable {
		return &Logger{Logger: zap.NewNop(), level: level}, nil
	}

	if err := level.UnmarshalText([]byte(levelOrDefault(opts.Level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = timeEncoder(opts.TimeFormat)

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console":
		if opts.Color {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	core := zapcore.NewCore(encoder, writeSyncer(opts), level)
	zl := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))

	return &Logger{Logger: zl, level: level}, nil
}

// SetLevel changes the level of this logger and every child derived from it
func (l *Logger) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(levelOrDefault(level)))
}

// Level returns the current level name
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level}
}

// Named creates a child logger with a name segment appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), level: l.level}
}

// StdLogger returns a standard library logger writing at error level
func (l *Logger) StdLogger() *log.Logger {
	std, err := zap.NewStdLogAt(l.Logger, zapcore.ErrorLevel)
	if err != nil {
		return zap.NewStdLog(l.Logger)
	}
	return std
}

func writeSyncer(opts Options) zapcore.WriteSyncer {
	if opts.File == "" {
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	})
}

func timeEncoder(format string) zapcore.TimeEncoder {
	switch format {
	case "kitchen":
		return zapcore.TimeEncoderOfLayout("3:04PM")
	case "rfc3339":
		return zapcore.RFC3339TimeEncoder
	case "rfc3339nano":
		return zapcore.RFC3339NanoTimeEncoder
	default:
		return zapcore.ISO8601TimeEncoder
	}
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return strings.ToLower(level)
}
