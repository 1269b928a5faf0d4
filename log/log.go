package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger wraps zerolog.Logger with validator-specific helpers.
type Logger struct {
	zerolog.Logger
}

// New creates a logger writing to stdout.
func New(level string, pretty bool) Logger {
	return NewWithWriter(os.Stdout, level, pretty)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level string, pretty bool) Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(level))

	var zlog zerolog.Logger
	if pretty {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"})
	} else {
		zlog = zerolog.New(w)
	}

	zlog = zlog.With().
		Timestamp().
		Caller().
		Stack().
		Logger()

	return Logger{zlog}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Module creates a logger for a specific module.
func (l Logger) Module(name string) Logger {
	return Logger{l.With().Str("module", name).Logger()}
}
