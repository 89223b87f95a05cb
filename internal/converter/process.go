package converter

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Command is an external program invocation. Arguments are passed as a
// vector, never through a shell.
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the current environment
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	Stdout   []byte   // only filled by Capture
	Stderr   []string // non-empty stderr lines
}

// Runner launches external processes. Both output streams are drained
// concurrently so a chatty child never blocks on a full pipe.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewRunner creates a runner. A zero timeout waits for the process forever.
func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	return &Runner{logger: logger, timeout: timeout}
}

// Stream runs c and calls onLine for every non-empty stdout line as it
// arrives. A non-zero exit is reported through Result.ExitCode, not as an
// error; errors are launch failures and timeouts.
func (r *Runner) Stream(ctx context.Context, c Command, onLine func(string)) (*Result, error) {
	return r.run(ctx, c, func(rd io.Reader, res *Result) {
		readLines(rd, func(line string) {
			r.logger.Debug(line, "stream", "stdout", "tool", filepath.Base(c.Path))
			if onLine != nil {
				onLine(line)
			}
		})
	})
}

// Capture runs c and keeps stdout as raw bytes.
func (r *Runner) Capture(ctx context.Context, c Command) (*Result, error) {
	return r.run(ctx, c, func(rd io.Reader, res *Result) {
		b, err := io.ReadAll(rd)
		if err != nil {
			r.logger.Debug("read stdout failed", "tool", filepath.Base(c.Path), "error", err)
			_, _ = io.Copy(io.Discard, rd)
		}
		res.Stdout = b
	})
}

func (r *Runner) run(ctx context.Context, c Command, stdout func(io.Reader, *Result)) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tool := filepath.Base(c.Path)
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	// grandchildren holding the pipes open must not hang Wait forever
	cmd.WaitDelay = 5 * time.Second

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, Errorf(ErrProcessLaunch, "%s failed: %v", tool, err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, Errorf(ErrProcessLaunch, "%s failed: %v", tool, err)
	}

	r.logger.Debug("starting process", "path", c.Path, "args", c.Args)
	if err := cmd.Start(); err != nil {
		return nil, Errorf(ErrProcessLaunch, "%v", err)
	}

	res := &Result{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdout(outPipe, res)
	}()
	go func() {
		defer wg.Done()
		readLines(errPipe, func(line string) {
			r.logger.Debug(line, "stream", "stderr", "tool", tool)
			res.Stderr = append(res.Stderr, line)
		})
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, &Error{Kind: ErrProcessExit, Msg: tool + " timed out after " + r.timeout.String(), ExitCode: -1}
		}
		return res, &Error{Kind: ErrProcessExit, Msg: tool + " was interrupted", ExitCode: -1}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Debug("process exited", "tool", tool, "exit_code", res.ExitCode)
			return res, nil
		}
		return res, Errorf(ErrProcessExit, "%s failed: %v", tool, waitErr)
	}
	r.logger.Debug("process exited", "tool", tool, "exit_code", 0)
	return res, nil
}

// readLines calls fn for every non-empty line until EOF.
func readLines(rd io.Reader, fn func(string)) {
	br := bufio.NewReader(rd)
	for {
		b, err := br.ReadBytes('\n')
		if len(b) > 0 {
			if line := cleanLine(b); line != "" {
				fn(line)
			}
		}
		if err != nil {
			return
		}
	}
}
