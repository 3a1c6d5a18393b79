package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
)

const serviceName = "graylogic-lightify"

// Logger is a slog.Logger that also owns its output. Every record carries
// the service name and build version.
//
// Logger is safe for concurrent use.
type Logger struct {
	*slog.Logger

	// closer is the rotating log file, nil for stdout and stderr.
	closer io.Closer
}

// New builds a Logger from the logging section of config.yaml.
//
// Parameters:
//   - cfg: level, format ("json" or "text") and output ("stdout", "stderr" or "file")
//   - version: build version attached to every record
//
// Returns:
//   - *Logger: ready for use; call Close on shutdown when output is "file"
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer := openOutput(cfg)
	return &Logger{
		Logger: slog.New(newHandler(w, cfg, version)),
		closer: closer,
	}
}

// newHandler writes records to w in the configured format. Unknown formats
// fall back to JSON.
func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
}

// openOutput returns the writer for cfg.Output. "file" rotates through
// lumberjack and is the only case with a non-nil closer.
func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return rotator, rotator
	default:
		return os.Stdout, nil
	}
}

// parseLevel accepts slog level names in any case, plus "warning".
// Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// With returns a child Logger with extra attributes. The child shares the
// parent's output, so closing either closes both.
//
//	mqttLog := log.With("component", "mqtt")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// Close closes a rotating log file. It is a no-op for stdout and stderr.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default is the JSON stdout logger used before config.yaml is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
