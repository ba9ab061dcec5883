package core

import (
	"io"
	"log/slog"
)

// SlogLogger adapts the standard library's structured logger to Logger.
// Field maps are passed through as flat slog key/value attributes.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger builds a SlogLogger writing JSON records to w at the given
// level.
func NewSlogLogger(w io.Writer, level slog.Level) *SlogLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(handler)}
}

// WrapSlogLogger adapts an already-constructed *slog.Logger, so a
// composition root can build its logger once and use it both directly and
// through the Logger interface.
func WrapSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: l}
}

func (l *SlogLogger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, toAttrs(fields)...)
}

func (l *SlogLogger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Warn(msg, toAttrs(fields)...)
}

func (l *SlogLogger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(msg, toAttrs(fields)...)
}

func (l *SlogLogger) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug(msg, toAttrs(fields)...)
}

func toAttrs(fields map[string]interface{}) []any {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}
