package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

const serviceName = "graylogic-iot"

// Logger is a slog.Logger carrying the service and version attributes.
// It satisfies the narrow Debug/Info/Warn/Error interfaces that other
// packages declare, so they never import slog directly.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml. Output
// "stderr" selects standard error, anything else standard output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination. The CLI uses it to keep
// logs on stderr while results go to stdout.
func NewWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		"service", serviceName,
		"version", version,
	)}
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// levelOf maps a config level name to slog, defaulting to info.
func levelOf(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child Logger with extra attributes.
//
//	log := logger.With("component", "reconciler")
//	log.Info("matched command")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component is With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the pre-config logger: JSON, info level, stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
