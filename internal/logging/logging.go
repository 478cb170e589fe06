// Package logging builds the logrus logger shared by codecontext components.
package logging

import (
	"io"
	"os"

	logger "github.com/sirupsen/logrus"
)

// Options selects level and format; Output defaults to stderr.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a configured logger. Unknown levels fall back to info.
func New(opts Options) *logger.Logger {
	log := logger.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	level, err := logger.ParseLevel(opts.Level)
	if err != nil {
		level = logger.InfoLevel
	}
	log.SetLevel(level)

	if opts.Format == "json" {
		log.SetFormatter(&logger.JSONFormatter{})
	} else {
		log.SetFormatter(&logger.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	}
	return log
}

// Discard returns a logger that drops everything, for tests and library use.
func Discard() *logger.Logger {
	log := logger.New()
	log.SetOutput(io.Discard)
	return log
}
