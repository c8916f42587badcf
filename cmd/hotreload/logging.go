package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vango-dev/hotreload/internal/errors"
)

// newLogger builds the console logger. Library packages log through
// slog; the charm logger renders their records.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, errors.New("E121").
			WithDetail("Unknown log level " + level + ".").
			WithSuggestion("Use debug, info, warn or error.")
	}
	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           lvl,
		Prefix:          "hotreload",
	})
	return slog.New(handler), nil
}

func setDefaultLogger(logger *slog.Logger) {
	slog.SetDefault(logger)
}
