package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/clean-dependency-project/sitectl/internal/logger"
)

// NewLoggers creates the stdout/stderr logger pair. Both write to stderr to
// keep stdout clean for command output. An invalid level falls back to info
// and an invalid format to JSON.
func NewLoggers(level, format string) (*slog.Logger, *slog.Logger) {
	return newLoggers(os.Stderr, level, format)
}

func newLoggers(w io.Writer, level, format string) (*slog.Logger, *slog.Logger) {
	if _, err := logger.ParseLevel(level); err != nil {
		level = "info"
	}
	if format != "text" {
		format = "json"
	}
	l, err := logger.NewWithWriter(w, level, format)
	if err != nil {
		l = slog.New(slog.NewJSONHandler(w, nil))
	}
	return l, l
}
