// Package logging wires zerolog the way the rest of the corpus does:
// one configured logger built at startup and threaded through explicitly,
// never a package-global default logger reached for ad hoc.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-writer zerolog.Logger at the given level. Pass
// "debug", "info", "warn" or "error"; unrecognized levels default to info.
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(lvl).With().Timestamp().Logger()
}
