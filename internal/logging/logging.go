// Package logging builds the structured logger every reforge subcommand
// shares. The teacher's go.mod lists github.com/samber/slog-multi without
// ever wiring it to a handler; Reforge gives it a home: every command fans
// its log/slog output out to a human-readable stderr handler and, when a
// job root is known, a JSON handler appended to that job's log file.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// New builds a logger writing to stderr and, if logFilePath is non-empty,
// also appending JSON records to logFilePath. The returned close func must
// be called once the command finishes; it is a no-op if no file was opened.
func New(logFilePath string, verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	closeFn := func() {}

	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closeFn = func() { _ = f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}
