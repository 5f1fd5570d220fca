package logger

import (
	"os"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init initializes the global logger. Level is one of debug, info, warn,
// error; anything else falls back to info.
func Init(level string) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return log.Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return log.Error()
}

// ErrorWithCode logs an error message tagged with its domain error code
func ErrorWithCode(err error) *zerolog.Event {
	return log.Error().
		Str("error_code", string(errors.CodeOf(err))).
		Err(err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *zerolog.Event {
	return log.Fatal()
}
