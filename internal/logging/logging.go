// Package logging configures the controller's structured logger. Every
// component receives a zerolog.Logger derived from the one built here rather
// than reaching for a package-level global.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// VerbosityToLevel maps the CLI's repeatable -v/--verbose count to a
// zerolog level: 0 verbose flags is InfoLevel, 1 is DebugLevel, 2+ is
// TraceLevel.
func VerbosityToLevel(verbosity int) zerolog.Level {
	switch {
	case verbosity >= 2:
		return zerolog.TraceLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global zerolog defaults and returns a root logger.
// When pretty is true (an interactive terminal) output is a human-readable
// console writer; otherwise it is newline-delimited JSON suitable for a
// log-processing pipeline.
func Init(level zerolog.Level, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	logger.Debug().Msg("logger initialized")
	return logger
}
