// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"time"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// Config selects level, format and caller reporting
type Config struct {
	Level        string
	Format       string
	ReportCaller bool
	Output       io.Writer
}

// Setup applies cfg to the standard logrus logger. An empty level or format
// keeps the current setting.
func Setup(cfg Config) error {
	if cfg.Level != "" {
		lvl, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return oops.In("logging").
				With("level", cfg.Level).
				With("provided", "panic,fatal,error,warn,info,debug,trace").
				Wrapf(err, "parse log level")
		}
		log.SetLevel(lvl)
	}

	log.SetReportCaller(cfg.ReportCaller)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		return oops.In("logging").With("format", cfg.Format).Errorf("unknown log format")
	}

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	}
	return nil
}
