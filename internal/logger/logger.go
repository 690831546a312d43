// Package logger builds the slog loggers used by sitectl.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Sentinel errors
var (
	ErrEmptyOption   = errors.New("logLevel and logFormat must not be empty")
	ErrInvalidLevel  = errors.New("invalid logLevel")
	ErrInvalidFormat = errors.New("invalid logFormat")
)

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
func ParseLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, logLevel)
}

// New sets up the default slog logger writing to stderr.
// logLevel: "info", "debug", "warn", "error"
// logFormat: "json" or "text"
func New(logLevel, logFormat string) (*slog.Logger, error) {
	logger, err := NewWithWriter(os.Stderr, logLevel, logFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// NewWithWriter builds a logger writing to w. The time key is renamed to
// "timestamp".
func NewWithWriter(w io.Writer, logLevel, logFormat string) (*slog.Logger, error) {
	if strings.TrimSpace(logLevel) == "" || strings.TrimSpace(logFormat) == "" {
		return nil, ErrEmptyOption
	}
	level, err := ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{Key: "timestamp", Value: a.Value}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, logFormat)
	}
	return slog.New(handler), nil
}
