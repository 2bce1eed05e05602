// Package logging wraps zap with the JSON layout themesync writes to
// stderr.
//
// Logger carries structured fields for the sync runtime; Sugar returns a
// printf-style logger that satisfies the narrow Logger interfaces of the
// library packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level  string
	Output io.Writer
	RunID  string
	Store  string
	Theme  string
}

type Logger struct {
	zap *zap.Logger
}

type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(output),
		level,
	)

	var fields []zap.Field
	if opts.RunID != "" {
		fields = append(fields, zap.String("run_id", opts.RunID))
	}
	if opts.Store != "" {
		fields = append(fields, zap.String("store", opts.Store))
	}
	if opts.Theme != "" {
		fields = append(fields, zap.String("theme_id", opts.Theme))
	}
	return &Logger{zap: zap.New(core).With(fields...)}, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func ParseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

func (l *Logger) Info(message string, fields ...zap.Field) {
	l.zap.Info(message, fields...)
}

func (l *Logger) Warn(message string, fields ...zap.Field) {
	l.zap.Warn(message, fields...)
}

func (l *Logger) Error(message string, fields ...zap.Field) {
	l.zap.Error(message, fields...)
}

func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func (s *SugaredLogger) Debugf(format string, args ...any) {
	s.sugar.Debugf(format, args...)
}

func (s *SugaredLogger) Infof(format string, args ...any) {
	s.sugar.Infof(format, args...)
}

func (s *SugaredLogger) Warnf(format string, args ...any) {
	s.sugar.Warnf(format, args...)
}

func (s *SugaredLogger) Errorf(format string, args ...any) {
	s.sugar.Errorf(format, args...)
}

// Printf logs at info level.
func (s *SugaredLogger) Printf(format string, args ...any) {
	s.sugar.Infof(format, args...)
}
