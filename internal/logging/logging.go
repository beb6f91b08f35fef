package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger. pretty selects the console writer;
// otherwise lines are JSON on stderr.
func Init(verbose, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stderr
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// ParseLevel maps LOG_LEVEL values onto Init's verbose switch.
func ParseLevel(level string) bool {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	return err == nil && l <= zerolog.DebugLevel
}

// WithComponent creates a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
