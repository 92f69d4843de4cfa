package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/simplepub/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "simplepub"

// Logger wraps slog.Logger with simplepub-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (text for the CLI, JSON for log shippers)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stderr, stdout or discard)
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "discard", "none":
		output = io.Discard
	default:
		// stdout carries nothing for a publisher, keep it clean for scripts.
		output = os.Stderr
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination. cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to warn if unrecognised, so a normal run prints nothing.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	loopLogger := logger.With("component", "syncloop")
//	loopLogger.Debug("iteration") // Includes component=syncloop
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger writes text to stderr at warn level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "warn",
		Format: "text",
		Output: "stderr",
	}, "dev")
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}
