// Package logging wires the process-wide slog handler. Components get
// their logger from New so every line carries a component attribute.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs the global slog default. Verbose lowers the floor to
// debug; format is "json" or "text" (anything else falls back to
// text). A nil writer means os.Stderr.
func Setup(verbose bool, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// New returns a logger scoped to one component, e.g. "ledger" or
// "promotion".
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}
