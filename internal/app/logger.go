package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// newLogger builds the process-wide structured logger writing to the log
// file and mirroring to stderr. COMPANION_LOG_LEVEL selects the minimum
// level (debug, info, warn, error); info is the default.
func newLogger(file io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(os.Getenv("COMPANION_LOG_LEVEL"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	out := io.MultiWriter(file, os.Stderr)
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
