package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// newLogger builds the process logger. A log file gets plain key=value
// records; stderr gets coloured ones unless quiet is set (the TUI owns the
// terminal), in which case logs are dropped.
func newLogger(g *Globals, quiet bool) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(g.LogLevel))); err != nil {
		return nil, nil, err
	}

	var (
		handler slog.Handler
		cleanup = func() {}
	)
	switch {
	case g.LogFile != "":
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handler = slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
		cleanup = func() { f.Close() }
	case quiet:
		handler = slog.NewTextHandler(io.Discard, nil)
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(os.Stderr),
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
