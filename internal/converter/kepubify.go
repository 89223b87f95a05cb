package converter

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ah-its-andy/bookconv/internal/utils"
)

// KepubifyJob describes one kepubify invocation.
type KepubifyJob struct {
	ToolPath  string
	Input     string // EPUB file to convert
	OutputDir string // directory kepubify writes into
	Target    string // canonical destination of the converted file
}

// Kepubify converts j.Input and moves the single "*.kepub.epub" it produces
// in j.OutputDir to j.Target.
func (c *Converter) Kepubify(ctx context.Context, j KepubifyJob, hooks Hooks) error {
	cmd := Command{Path: j.ToolPath, Args: []string{j.Input, "-o", j.OutputDir, "-i"}}
	hooks.progress(0.01)
	res, err := c.runner.Stream(ctx, cmd, hooks.line)
	if err != nil {
		return relabel(err, "Kepubify-converter failed")
	}
	for _, l := range res.Stderr {
		hooks.line(l)
	}
	if res.ExitCode != 0 {
		return exitError("Kepubify-converter failed", res)
	}

	base := strings.TrimSuffix(filepath.Base(j.Input), filepath.Ext(j.Input))
	pattern := filepath.Join(escapeGlob(j.OutputDir), escapeGlob(base)+"*.kepub.epub")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) != 1 {
		return Errorf(ErrAmbiguousOutput, "Converted file not found or more than one file in folder %s", j.OutputDir)
	}
	if err := utils.CopyFile(matches[0], j.Target); err != nil {
		return Errorf(ErrNotFound, "copy converted file: %v", err)
	}
	if err := os.Remove(matches[0]); err != nil {
		c.logger.Warn("remove intermediate kepub failed", "path", matches[0], "error", err)
	}
	return nil
}

// escapeGlob quotes filepath.Match meta characters.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
