package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Manager owns the process-wide slog logger, fanned out to console, an
// optional logfile, and an optional OTel log bridge.
type Manager struct {
	logger *slog.Logger

	// OTel provider retained for flushing
	logProvider *sdklog.LoggerProvider
}

// NewManager creates an uninitialized logging manager. Call Setup before
// Logger for anything other than the default logger.
func NewManager() *Manager {
	return &Manager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system with file and optional OTel output.
// If provider is nil, OTel logging is disabled.
func (m *Manager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	handlers = append(handlers, slog.NewTextHandler(os.Stdout, handlerOpts))

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	}

	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler("roadwatch", otelslog.WithLoggerProvider(provider)))
	}

	m.logger = slog.New(NewMultiHandler(handlers...))
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger, or the default logger if
// Setup has not been called.
func (m *Manager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *Manager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// DispatcherLogger adapts a slog.Logger to the dispatcher's logger
// interface.
type DispatcherLogger struct {
	logger *slog.Logger
}

// NewDispatcherLogger creates a dispatcher logger backed by l.
func NewDispatcherLogger(l *slog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: l}
}

func (d *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	d.logger.Debug(msg, keysAndValues...)
}

func (d *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	d.logger.Info(msg, keysAndValues...)
}

func (d *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	d.logger.Error(msg, keysAndValues...)
}
