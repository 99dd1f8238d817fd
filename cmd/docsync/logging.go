package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// newLogger returns an slog logger backed by a charmbracelet handler.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	opts := log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Formatter:       log.TextFormatter,
	}
	switch format {
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	}
	return slog.New(log.NewWithOptions(w, opts)), nil
}
