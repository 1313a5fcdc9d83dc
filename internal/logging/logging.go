// Package logging builds the zerolog loggers handed to every engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ConsoleTimeFormat is the timestamp layout of console output.
const ConsoleTimeFormat = "15:04:05"

// Options configures New.
type Options struct {
	Level zerolog.Level
	// JSON selects one JSON object per line instead of console output.
	JSON bool
	// Out receives the log stream; nil means os.Stderr.
	Out io.Writer
	// File, when set, receives a JSON copy of every record.
	File    string
	NoColor bool
}

// New builds a logger. The returned closer releases the log file and must be called
// when logging is done; it is a no-op when no file was opened.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var writer io.Writer = out
	if !opts.JSON {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: ConsoleTimeFormat, NoColor: opts.NoColor}
	}

	closer := io.Closer(nopCloser{})
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		writer = zerolog.MultiLevelWriter(writer, file)
		closer = file
	}

	logger := zerolog.New(writer).
		Level(opts.Level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}

// Component returns logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
