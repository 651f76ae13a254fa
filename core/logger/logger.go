// Package logger defines the logging interface used by the core packages.
// The zerolog implementation lives in infra/logger.
package logger

// Logger exposes logging methods for common severity levels.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Contextual loggers can derive a child carrying an extra field.
type Contextual interface {
	With(key string, value any) Logger
}

// With returns l with the field attached when l supports it, l otherwise.
func With(l Logger, key string, value any) Logger {
	if c, ok := l.(Contextual); ok {
		return c.With(key, value)
	}
	return l
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}
