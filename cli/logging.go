package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"tvremote/config"
)

// setupLogging writes human-readable logs to a terminal and JSON otherwise.
// An empty level is resolved later from the config file.
func setupLogging(level string) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	applyLogLevel(level)
}

func applyLogLevel(level string) {
	if level == "" {
		level = config.DefaultLogLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
