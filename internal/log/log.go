// Package log wraps zerolog with a console writer and a small leveled API.
// All packages in this module log through it so output format and level
// handling stay in one place.
package log

import (
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	}

	Logger = zerolog.New(output).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()

	zlog.Logger = Logger
}

// Debug starts a debug-level event.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info starts an info-level event.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn starts a warn-level event.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error starts an error-level event.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal starts a fatal-level event; the finished event exits the process.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// SetDebugMode lowers the minimum level to debug.
func SetDebugMode() {
	Logger = Logger.Level(zerolog.DebugLevel)
	zlog.Logger = Logger
}
