// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects level and output format
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or pretty
	// TimeFormat defaults to RFC3339
	TimeFormat   string `json:"time_format"`
	ReportCaller bool   `json:"report_caller"`
}

// Init installs the global logger described by cfg and returns it
func Init(cfg Config) zerolog.Logger {
	return InitWriter(cfg, os.Stdout)
}

// InitWriter is Init with an explicit destination
func InitWriter(cfg Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.TimeFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	} else {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	output := out
	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.ReportCaller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
