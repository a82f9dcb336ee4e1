// Package tlog provides structured logging with run context.
//
// Two logger variants are available:
//   - Logger: non-sugared zap.Logger for the hot path (collectors, watchers)
//   - SugaredLogger: printf-style logging for the CLI and control surface
//
// Use Logger.Sugar() to obtain a SugaredLogger when convenience matters
// more than allocation cost.
package tlog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tracer-cloud/tracerd/internal/types"
)

// Logger wraps zap.Logger with run-identity fields bound at construction.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger wraps zap.SugaredLogger with the same run-identity fields.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a logger carrying the given run's identity fields.
// Output defaults to os.Stderr.
func New(run *types.RunMeta) *Logger {
	return newWithWriter(run, os.Stderr)
}

// WithOutput returns a copy of l writing to w instead of its current sink.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := jsonCore(w)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func newWithWriter(run *types.RunMeta, w io.Writer) *Logger {
	core := jsonCore(w)

	if run == nil {
		return &Logger{zap: zap.New(core)}
	}

	fields := []zap.Field{
		zap.String("run_name", run.Name),
		zap.String("run_id", run.ID),
	}
	if run.PipelineName != "" {
		fields = append(fields, zap.String("pipeline_name", run.PipelineName))
	}

	return &Logger{zap: zap.New(core).With(fields...)}
}

func jsonCore(w io.Writer) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
}

func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }
func (l *Logger) Info(message string, fields map[string]any)  { l.zap.Info(message, zap.Any("fields", fields)) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.zap.Warn(message, zap.Any("fields", fields)) }
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger sharing this logger's core and context fields.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }
func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

// With returns a SugaredLogger with additional key/value context appended.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }
