// Package logger holds the process-wide zerolog logger. Packages derive
// component loggers from it with WithComponent.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the global logger instance
var Logger zerolog.Logger

func init() {
	// stderr, so frame output on stdout stays machine-readable
	install(os.Stderr, false)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// ParseLevel maps a level name to a zerolog level. Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch LogLevel(strings.ToLower(level)) {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel, "warning":
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global logger to write to stderr at level. pretty
// selects the human-readable console format instead of JSON lines.
func Init(level string, pretty bool) {
	InitWriter(os.Stderr, level, pretty)
}

// InitWriter is Init with an explicit destination.
func InitWriter(out io.Writer, level string, pretty bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	install(out, pretty)
}

func install(out io.Writer, pretty bool) {
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	log.Logger = Logger
}

// SetLevel changes the global level in place, e.g. after a config reload.
func SetLevel(level string) {
	lvl := ParseLevel(level)
	if lvl == zerolog.GlobalLevel() {
		return
	}
	zerolog.SetGlobalLevel(lvl)
	Logger.Info().Str("level", lvl.String()).Msg("Log level changed")
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) *zerolog.Logger {
	return WithField("component", component)
}

// WithField returns a child logger carrying key=value on every event.
func WithField(key string, value any) *zerolog.Logger {
	l := Logger.With().Interface(key, value).Logger()
	return &l
}
