package common

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConfigureCommandLineLogging sets up logrus for interactive use. Logs go to stderr so that
// anything the commands print to stdout (rendered requests, training logs) stays pipeable.
func ConfigureCommandLineLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if level, ok := os.LookupEnv("MPTRAIN_LOGLEVEL"); ok {
		if err := ConfigureLogLevel(level); err != nil {
			log.Warn(err)
		}
	}
}

// ConfigureLogLevel parses a logrus level name ("debug", "info", ...) and applies it globally.
func ConfigureLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.WithMessagef(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	return nil
}
