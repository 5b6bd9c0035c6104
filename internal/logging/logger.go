// Package logging provides the process-wide structured logger built on
// zerolog. Components obtain child loggers with a fixed component field so
// log lines can be filtered per subsystem.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
)

var (
	root zerolog.Logger
	once sync.Once
)

// Init configures the root logger. Safe to call more than once; only the
// first call takes effect.
func Init(cfg config.LoggingConfig) {
	once.Do(func() {
		root = build(cfg)
	})
}

func build(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, ferr := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			output = os.Stdout
		} else {
			output = file
		}
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Root returns the root logger, initializing with defaults if needed.
func Root() zerolog.Logger {
	once.Do(func() {
		root = build(config.LoggingConfig{Level: "info", Output: "stdout", JSONFormat: true})
	})
	return root
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Root().With().Str("component", name).Logger()
}
