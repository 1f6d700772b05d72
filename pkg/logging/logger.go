// Package logging builds the shared structured logger used by both the
// robotd and controller binaries.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a level- and output-configured JSON logger. level is one
// of "debug", "info", "warn", "error" (default "info"); output is
// "stdout" or a file path.
func New(level, output string) *logrus.Logger {
	logger := logrus.New()
	SetLevel(logger, level)

	if output == "" || output == "stdout" {
		logger.SetOutput(os.Stdout)
	} else {
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.SetOutput(os.Stdout)
			logger.WithField("path", output).Warn("failed to open log file, using stdout")
		} else {
			logger.SetOutput(file)
		}
	}

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return logger
}

// SetLevel changes a logger's level at runtime.
func SetLevel(logger *logrus.Logger, level string) {
	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}
