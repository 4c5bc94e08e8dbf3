package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

// ServiceName is attached to every log record as the "service" attribute.
const ServiceName = "mqtt-connector"

// LibraryLoggerName identifies records emitted by the MQTT client library.
const LibraryLoggerName = "mqtt-client"

// Logger wraps slog.Logger with connector-specific defaults.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates the application logger: JSON or text output, level filtering,
// and the service/version attributes on every record.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newLogger(writerFor(cfg.Output), cfg.Format, parseLevel(cfg.Level), version)
}

// NewLibrary creates the second logger identity used for the MQTT client
// library's internal output. It shares format and destination with the
// application logger but filters at logging.mqtt_level.
func NewLibrary(cfg config.LoggingConfig, version string) *Logger {
	l := newLogger(writerFor(cfg.Output), cfg.Format, parseLevel(cfg.MQTTLevel), version)
	return l.With("logger", LibraryLoggerName)
}

func newLogger(w io.Writer, format string, level slog.Level, version string) *Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func writerFor(output string) io.Writer {
	if strings.ToLower(output) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel converts a string log level to slog.Level.
// Unrecognised values fall back to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a logger for use before configuration is loaded:
// JSON on stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
