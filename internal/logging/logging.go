package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger.
//
// level accepts "debug", "info", "warn", "error" and "none", plus the aliases
// dev/development and production/prod. An empty level falls back to LOG_LEVEL
// and then to "error", so production builds only show errors.
//
// When file is empty, text logs go to stderr. Otherwise JSON logs are written to
// file and the returned close function must be called on shutdown.
func Init(level, file string) (func() error, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	lvl, discard, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if discard {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return func() error { return nil }, nil
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if file == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, opts)))
	return f.Close, nil
}

// ParseLevel maps a level name to a slog level. discard is true for "none".
func ParseLevel(level string) (lvl slog.Level, discard bool, err error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "dev", "development", "debug":
		return slog.LevelDebug, false, nil
	case "info":
		return slog.LevelInfo, false, nil
	case "warn", "warning":
		return slog.LevelWarn, false, nil
	case "", "error", "production", "prod":
		return slog.LevelError, false, nil
	case "none", "off":
		return slog.LevelError, true, nil
	default:
		return slog.LevelError, false, fmt.Errorf("unexpected log level %q", level)
	}
}
