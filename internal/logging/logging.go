// Package logging configures the process-wide logrus logger from command line flags.
package logging

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

type Config struct {
	Level  string
	Format string
}

func AddFlags(a *kingpin.Application, c *Config) {
	a.Flag("log.level", "Only log messages with the given severity or above. One of: [debug, info, warn, error]").
		Envar("LOG_LEVEL").Default("info").StringVar(&c.Level)
	a.Flag("log.format", "Output format of log messages. One of: [text, json]").
		Envar("LOG_FORMAT").Default("text").EnumVar(&c.Format, "text", "json")
}

// Configure applies c to l.
func Configure(l *logrus.Logger, c Config) error {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	l.SetLevel(lvl)

	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown log format %q", c.Format)
	}

	l.SetOutput(os.Stderr)
	return nil
}
