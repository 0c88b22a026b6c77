// Package localexec runs commands on the workstation.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result holds the outcome of a local command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a program in dir.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExecRunner runs real processes. Output is captured and, when set, also copied to
// Stdout/Stderr as it arrives.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunner returns an ExecRunner streaming to the given writers (either may be nil).
func NewRunner(stdout, stderr io.Writer) *ExecRunner {
	return &ExecRunner{Stdout: stdout, Stderr: stderr}
}

// Run implements Runner. A non-zero exit is reported through Result.ExitCode with a nil error;
// the error is reserved for processes that could not be started or were cancelled.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = tee(&stdout, r.Stdout)
	cmd.Stderr = tee(&stderr, r.Stderr)

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return res, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
