// Package logging builds the zerolog.Logger used throughout algae and
// whirlpool. There is no package-level singleton: every component that
// logs takes a zerolog.Logger as a constructor argument, so tests can
// inject a buffer-backed one and production can inject one writing to
// stderr or a file.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Config controls the destination and verbosity of a Logger.
type Config struct {
	Level  string // "debug", "info", "warn", "error"; default "info"
	Pretty bool   // console-writer formatting, for interactive use
	Output io.Writer
}

// New builds a zerolog.Logger from cfg. A nil cfg.Output defaults to
// os.Stderr, keeping stdout free for any machine-readable output a CLI
// command might print.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
