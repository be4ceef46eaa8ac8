// Package logging provides structured loggers for ripple components.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a structured logger for ripple components
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger writing JSON to stderr
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stderr, component, level)
}

// NewLoggerTo creates a new structured logger writing to w.
// Used by tests to capture output.
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "ripple"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything. Nil-safe default for
// library callers that do not care about logs.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// WithTransport returns a logger with transport-specific fields
func (l *Logger) WithTransport(transport string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("transport", transport),
		),
	}
}

// EventReceived logs receipt of a realtime event
func (l *Logger) EventReceived(eventID, eventType string, payloadSize int) {
	l.Debug("event received",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("payload_size", payloadSize),
	)
}

// StateChanged logs a connection state transition
func (l *Logger) StateChanged(from, to string) {
	l.Info("connection state changed",
		slog.String("from", from),
		slog.String("to", to),
	)
}
