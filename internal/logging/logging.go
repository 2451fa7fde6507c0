// Package logging builds the slog loggers used by the commands.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel converts DEBUG/INFO/WARN/ERROR (any case) to a slog.Level.
// Unknown names yield INFO and an error describing the fallback.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q, using INFO", s)
	}
}

// New returns a text logger writing to w at the given level name. A bad
// level is reported through the returned logger itself and INFO is used.
func New(w io.Writer, level string) *slog.Logger {
	lvl, err := ParseLevel(level)
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	if err != nil {
		l.Warn(err.Error())
	}
	return l
}
