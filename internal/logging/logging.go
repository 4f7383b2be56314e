package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs the global logger. The default level only shows errors;
// LOG_LEVEL raises it for development.
func Init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = New(os.Stderr)
	zerolog.SetGlobalLevel(LevelFromEnv())
}

// New returns a console logger writing to w.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

// LevelFromEnv maps LOG_LEVEL to a zerolog level.
func LevelFromEnv() zerolog.Level {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return zerolog.ErrorLevel
	}
	return ParseLevel(l)
}

// ParseLevel accepts the names used by LOG_LEVEL. Unknown names fall back to error.
func ParseLevel(l string) zerolog.Level {
	switch l {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "production", "prod":
		return zerolog.ErrorLevel
	default:
		return zerolog.ErrorLevel
	}
}
