// Package logging configures structured, leveled, component-tagged logging
// for Vigil on top of the standard library's log/slog.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler used by Init.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures the process-wide default logger.
type Options struct {
	Level  slog.Level
	Format Format
}

// Init installs a process-wide default slog logger built from opts.
// Call once at process startup, before any component logger is created.
func Init(opts Options) {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))
}

// OptionsFromEnv reads VIGIL_LOG_LEVEL (debug|info|warn|error, default info)
// and VIGIL_LOG_FORMAT (text|json, default text).
func OptionsFromEnv() Options {
	opts := Options{Level: slog.LevelInfo, Format: FormatText}

	switch strings.ToLower(os.Getenv("VIGIL_LOG_LEVEL")) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	if strings.ToLower(os.Getenv("VIGIL_LOG_FORMAT")) == "json" {
		opts.Format = FormatJSON
	}

	return opts
}

// Component returns a logger tagged with component=name, matching the
// slog.With("component", ...) idiom used throughout Vigil.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
