package log

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// GetLevel maps the number of -v flags to a level, anything past two is trace
func GetLevel(verbose int) log.Level {
	switch {
	case verbose <= 0:
		return log.InfoLevel
	case verbose == 1:
		return log.DebugLevel
	default:
		return log.TraceLevel
	}
}

// New returns the root logger of a command. JSON output is meant for the
// worker running under a supervisor, text output for a terminal.
func New(verbose int, jsonOutput bool, out io.Writer) *log.Logger {
	if out == nil {
		out = os.Stderr
	}
	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(GetLevel(verbose))
	if jsonOutput {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// ForJob returns an entry carrying the fields every job log line has
func ForJob(logger log.FieldLogger, clusterID, name string) *log.Entry {
	return logger.WithFields(log.Fields{
		"cluster": clusterID,
		"name":    name,
	})
}
