package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup builds the process logger and installs it as the zerolog global.
// format is "console" or "json"; level is any zerolog level name or "none".
func Setup(level, format string, out io.Writer) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stdout
	}

	lvl := zerolog.InfoLevel
	switch level {
	case "", "info":
	case "none", "disabled":
		lvl = zerolog.Disabled
	default:
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("unexpected log level %q", level)
		}
		lvl = parsed
	}

	var w io.Writer
	switch format {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: out}
	case "json":
		w = out
	default:
		return zerolog.Nop(), fmt.Errorf("unexpected log format %q", format)
	}

	zerolog.SetGlobalLevel(lvl)
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	log.Logger = l
	return l, nil
}
