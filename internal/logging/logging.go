// Package logging builds the structured logger shared by every component.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Output names that do not refer to files.
const (
	OutputStderr  = "stderr"
	OutputStdout  = "stdout"
	OutputDiscard = "discard"
)

var (
	// ErrUnknownLevel is returned for a level other than debug, info, warn
	// or error.
	ErrUnknownLevel = errors.New("unknown log level")

	// ErrUnknownFormat is returned for a format other than text or json.
	ErrUnknownFormat = errors.New("unknown log format")
)

// Options selects the level, format and destination of the logger.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string

	// Format is text or json. Empty means text.
	Format string

	// Output is stderr, stdout, discard or a file path. Empty means stderr.
	// Files are created with their directory and appended to.
	Output string
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ValidFormat reports whether format names a known handler.
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case "", "text", "json":
		return true
	}
	return false
}

// New builds a logger from opts. The returned Closer releases the log file,
// if any; it is always non-nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, ok := ParseLevel(opts.Level)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownLevel, opts.Level)
	}
	if !ValidFormat(opts.Format) {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}

	w, closer, err := openOutput(opts.Output)
	if err != nil {
		return nil, nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", OutputStderr:
		return os.Stderr, nopCloser{}, nil
	case OutputStdout:
		return os.Stdout, nopCloser{}, nil
	case OutputDiscard:
		return io.Discard, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
