// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
)

// Setup installs the default slog logger.
//
// Without debug, logs are discarded. With debug, they are written at debug
// level to a RotatingFile at path, which the caller must close.
func Setup(path string, debug bool) (io.Closer, error) {
	if !debug {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nopCloser{}, nil
	}

	file, err := NewRotatingFile(path)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return file, nil
}

// Fallback logs to w, used when the log file cannot be opened.
func Fallback(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
