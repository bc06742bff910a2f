package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the process logger. format "text" writes a human readable
// console log; anything else writes JSON lines. Both go to stderr.
func Setup(format string) zerolog.Logger {
	if format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
