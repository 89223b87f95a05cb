// Package converter drives the external ebook conversion tools: calibre's
// ebook-convert and calibredb, and kepubify. It knows nothing about the
// catalog; it turns files into files and reports progress along the way.
package converter

import (
	"log/slog"
	"time"
)

// Hooks receive converter feedback while a tool runs. Either may be nil.
type Hooks struct {
	// Progress gets fractions in [0, 1] parsed from the tool's output.
	Progress func(float64)
	// Line gets every non-empty stdout and stderr line.
	Line func(string)
}

func (h Hooks) progress(p float64) {
	if h.Progress != nil {
		h.Progress(p)
	}
}

func (h Hooks) line(l string) {
	if h.Line != nil {
		h.Line(l)
	}
}

// Converter runs conversions through a shared process runner.
type Converter struct {
	runner *Runner
	logger *slog.Logger
}

// New creates a converter. timeout bounds each external process; zero means
// no bound.
func New(logger *slog.Logger, timeout time.Duration) *Converter {
	logger = logger.With("component", "converter")
	return &Converter{
		runner: NewRunner(logger, timeout),
		logger: logger,
	}
}
