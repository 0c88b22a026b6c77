// Package envcheck verifies the interpreter and conda environment on a build machine.
package envcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/courseforge/internal/remote"
)

// DefaultPythonPrefix is the expected start of "python --version" output.
const DefaultPythonPrefix = "Python 3"

// Options configures Check.
type Options struct {
	CondaPath    string
	Env          string
	PythonPrefix string
	Logf         func(format string, args ...any)
}

// VersionError reports an interpreter that does not match the expected prefix.
type VersionError struct {
	Want string
	Got  string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("python version %q does not start with %q", e.Got, e.Want)
}

// CommandError is a check whose command wrote to stderr.
type CommandError struct {
	Command string
	Stderr  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Stderr)
}

// CheckPythonVersion validates "python --version" output against prefix.
func CheckPythonVersion(out, prefix string) error {
	got := strings.TrimSpace(out)
	if !strings.HasPrefix(got, prefix) {
		return &VersionError{Want: prefix, Got: got}
	}
	return nil
}

// Check runs the version and environment probes inside the activated conda env.
// The first probe with stderr output fails the check.
func Check(ctx context.Context, exec remote.Executor, opts Options) error {
	if opts.PythonPrefix == "" {
		opts.PythonPrefix = DefaultPythonPrefix
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	probes := []struct {
		step   string
		verify func(out string) error
	}{
		{"python --version", func(out string) error { return CheckPythonVersion(out, opts.PythonPrefix) }},
		{"conda --version", nil},
		{"conda env list", nil},
	}
	for _, p := range probes {
		cmd := remote.InEnv(opts.CondaPath, opts.Env, p.step)
		logf("check: %s", cmd)
		res, err := exec.Execute(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", p.step, err)
		}
		if res.HasStderr() {
			return &CommandError{Command: p.step, Stderr: strings.TrimSpace(res.Stderr)}
		}
		logf("%s", strings.TrimSpace(res.Stdout))
		if p.verify != nil {
			if err := p.verify(res.Stdout); err != nil {
				return err
			}
		}
	}
	return nil
}
