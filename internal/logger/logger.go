// Package logger provides the structured logging seam for Recora.
// The default is a no-op; production wiring adapts log/slog.
package logger

import "log/slog"

// Logger is the logging interface statement execution reports to.
// Arguments are alternating key-value pairs, slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything. It is the default when no logger is
// configured.
type NoopLogger struct{}

func (n *NoopLogger) Debug(_ string, _ ...any) {}
func (n *NoopLogger) Info(_ string, _ ...any)  {}
func (n *NoopLogger) Warn(_ string, _ ...any)  {}
func (n *NoopLogger) Error(_ string, _ ...any) {}

// SlogAdapter implements Logger over a *slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps an slog.Logger. The logger must not be nil.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
