package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// libraryLogger adapts a slog.Logger to paho's Println/Printf logger at a
// fixed level.
type libraryLogger struct {
	log   *slog.Logger
	level slog.Level
}

func (l libraryLogger) Println(v ...any) {
	l.emit(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l libraryLogger) Printf(format string, v ...any) {
	l.emit(fmt.Sprintf(format, v...))
}

func (l libraryLogger) emit(msg string) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, l.level) {
		return
	}
	l.log.Log(ctx, l.level, msg)
}

// SetLibraryLogger routes the paho client library's internal diagnostics
// to logger. ERROR and CRITICAL map to error, WARN to warn and DEBUG to
// debug; the logger's own level decides what is kept. A nil logger
// silences the library again.
//
// The paho loggers are package globals, so this affects every client in
// the process. Call it once during startup.
func SetLibraryLogger(logger *slog.Logger) {
	if logger == nil {
		pahomqtt.ERROR = pahomqtt.NOOPLogger{}
		pahomqtt.CRITICAL = pahomqtt.NOOPLogger{}
		pahomqtt.WARN = pahomqtt.NOOPLogger{}
		pahomqtt.DEBUG = pahomqtt.NOOPLogger{}
		return
	}

	pahomqtt.ERROR = libraryLogger{log: logger, level: slog.LevelError}
	pahomqtt.CRITICAL = libraryLogger{log: logger, level: slog.LevelError}
	pahomqtt.WARN = libraryLogger{log: logger, level: slog.LevelWarn}
	pahomqtt.DEBUG = libraryLogger{log: logger, level: slog.LevelDebug}
}
