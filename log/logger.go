// Package log writes JSON log lines through zap. Every entry carries the
// run_id and attempt of the run it belongs to; pipeline details go under
// a nested "fields" object.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/pgnstream/types"
)

// Logger is a run-scoped structured logger.
type Logger struct {
	zap *zap.Logger
}

// ParseLevel accepts debug, info, warn and error. Empty means debug.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.DebugLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// New creates a logger for runMeta writing entries at or above level to w.
func New(runMeta *types.RunMeta, w io.Writer, level zapcore.Level) *Logger {
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)

	run := []zap.Field{
		zap.String("run_id", runMeta.RunID),
		zap.Int("attempt", runMeta.Attempt),
	}
	if parent := runMeta.Parent(); parent != "" {
		run = append(run, zap.String("parent_run_id", parent))
	}
	return &Logger{zap: zap.New(core).With(run...)}
}

// NewLogger logs everything to stderr.
func NewLogger(runMeta *types.RunMeta) *Logger {
	return New(runMeta, os.Stderr, zapcore.DebugLevel)
}

// NewLoggerWithWriter logs everything to w.
func NewLoggerWithWriter(runMeta *types.RunMeta, w io.Writer) *Logger {
	return New(runMeta, w, zapcore.DebugLevel)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// With returns a logger that adds fields at the top level of every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{zap: l.zap.With(zf...)}
}

func (l *Logger) Debug(message string, fields map[string]any) { l.log(zapcore.DebugLevel, message, fields) }
func (l *Logger) Info(message string, fields map[string]any)  { l.log(zapcore.InfoLevel, message, fields) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.log(zapcore.WarnLevel, message, fields) }
func (l *Logger) Error(message string, fields map[string]any) { l.log(zapcore.ErrorLevel, message, fields) }

func (l *Logger) log(level zapcore.Level, message string, fields map[string]any) {
	ce := l.zap.Check(level, message)
	if ce == nil {
		return
	}
	if len(fields) == 0 {
		ce.Write()
		return
	}
	ce.Write(zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
