package logger

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// InitLogger configures the process-wide logrus logger. Level comes from the
// LOG_LEVEL env var, defaulting to info.
func InitLogger() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = log.InfoLevel
	}

	log.SetLevel(level)

	if level >= log.DebugLevel {
		log.SetReportCaller(true)
	}
}
