package core

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is a small severity enum mapped onto zerolog levels.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Logger returns the package-level structured logger every component in
// this module logs through.
func Logger() *zerolog.Logger { return &logger }

// SetLogLevel sets the global minimum level.
func SetLogLevel(l LogLevel) {
	switch l {
	case DEBUG:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case WARN:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case ERROR:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetJSONOutput switches the logger to JSON framing, used when the process
// runs headless (no console attached).
func SetJSONOutput() {
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
