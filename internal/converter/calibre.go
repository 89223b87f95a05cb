package converter

import (
	"context"
	"os"
	"strconv"
)

// CalibreJob describes one ebook-convert invocation.
type CalibreJob struct {
	ToolPath  string
	Source    string // full path including the old extension
	Target    string // full path including the new extension
	OPFPath   string // optional metadata document, passed as --from-opf
	CoverPath string // optional cover image, passed as --cover
	Extra     []Arg
}

// Argv builds the argument vector (without the tool itself).
func (j CalibreJob) Argv() []string {
	argv := []string{j.Source, j.Target}
	if j.OPFPath != "" {
		argv = append(argv, "--from-opf", j.OPFPath)
		if j.CoverPath != "" {
			argv = append(argv, "--cover", j.CoverPath)
		}
	}
	return append(argv, Argv(j.Extra)...)
}

// Calibre converts j.Source into j.Target with ebook-convert. The tool must
// exist on disk; it is never looked up on PATH.
func (c *Converter) Calibre(ctx context.Context, j CalibreJob, hooks Hooks) error {
	if _, err := os.Stat(j.ToolPath); err != nil {
		return Errorf(ErrConfiguration, "Calibre ebook-convert %s not found", j.ToolPath)
	}

	res, err := c.runner.Stream(ctx, Command{Path: j.ToolPath, Args: j.Argv()}, func(line string) {
		hooks.line(line)
		if p, ok := ParseProgress(line); ok {
			hooks.progress(p)
		}
	})
	if err != nil {
		return relabel(err, "Ebook-converter failed")
	}
	for _, l := range res.Stderr {
		hooks.line(l)
	}
	if res.ExitCode != 0 {
		return exitError("Calibre failed with error", res)
	}
	return nil
}

func exitError(prefix string, res *Result) *Error {
	msg := prefix
	if d := Diagnostic(res.Stderr); d != "" {
		msg += ": " + d
	} else {
		msg += ": exit code " + strconv.Itoa(res.ExitCode)
	}
	return &Error{Kind: ErrProcessExit, Msg: msg, ExitCode: res.ExitCode}
}
