package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/patent-crawler/internal/progress"
)

// LogSink writes each event as a structured log line at the event's level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.Int64("seq", evt.Seq),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Field != "" {
			fields = append(fields, zap.String("field", evt.Field))
		}
		if evt.Mode != "" {
			fields = append(fields, zap.String("mode", evt.Mode))
		}
		if evt.Count != 0 {
			fields = append(fields, zap.Int("count", evt.Count))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if ce := s.logger.Check(zapLevel(evt.Level), evt.Message); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func zapLevel(l progress.Level) zapcore.Level {
	switch l {
	case progress.LevelWarn:
		return zapcore.WarnLevel
	case progress.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
