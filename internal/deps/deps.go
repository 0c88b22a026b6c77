// Package deps reconciles the pip packages installed on a build machine with a required set.
package deps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joescharf/courseforge/internal/remote"
)

// DefaultMirror is the package index used for installs.
const DefaultMirror = "https://mirrors.aliyun.com/pypi/simple/"

// DefaultRequired are the packages the desktop app needs to build.
var DefaultRequired = []string{
	"anthropic",
	"openai",
	"pyqt6",
	"python-dotenv",
	"markdown",
	"setuptools",
	"zhipuai",
	"pyinstaller",
}

// ParsePipList returns the lower-cased names from "pip list" output.
// Only lines with at least two fields count, which drops blank lines but keeps the header.
func ParsePipList(out string) map[string]struct{} {
	installed := map[string]struct{}{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			installed[strings.ToLower(fields[0])] = struct{}{}
		}
	}
	return installed
}

// Missing returns the required entries absent from installed, spelled as in required.
// Names are compared case-insensitively and the result is sorted the same way.
func Missing(required []string, installed map[string]struct{}) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range required {
		name := strings.TrimSpace(r)
		key := strings.ToLower(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := installed[key]; !ok {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// MissingError lists packages still absent after installation.
type MissingError struct {
	Packages []string
}

func (e *MissingError) Error() string {
	return "packages still missing: " + strings.Join(e.Packages, ", ")
}

// Options configures Ensure.
type Options struct {
	CondaPath string
	Env       string
	Required  []string
	Mirror    string
	Logf      func(format string, args ...any)
}

// Report describes an Ensure pass.
type Report struct {
	Missing   []string
	Installed []string
	Failed    []string
}

// ListCommand lists installed packages inside the env.
func ListCommand(condaPath, env string) string {
	return remote.InEnv(condaPath, env, "pip list")
}

// InstallCommand installs one package from mirror inside the env.
func InstallCommand(condaPath, env, mirror, pkg string) string {
	return remote.InEnv(condaPath, env, fmt.Sprintf("pip install -i %s %s", mirror, pkg))
}

// Ensure installs each missing required package one at a time, then re-lists.
// Individual install failures are only logged; the final listing decides the outcome.
func Ensure(ctx context.Context, exec remote.Executor, opts Options) (Report, error) {
	if opts.Mirror == "" {
		opts.Mirror = DefaultMirror
	}
	if opts.Required == nil {
		opts.Required = DefaultRequired
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	var rep Report
	list := ListCommand(opts.CondaPath, opts.Env)
	installed, err := listInstalled(ctx, exec, list)
	if err != nil {
		return rep, err
	}
	rep.Missing = Missing(opts.Required, installed)
	if len(rep.Missing) == 0 {
		return rep, nil
	}
	logf("missing packages: %s", strings.Join(rep.Missing, ", "))

	for _, pkg := range rep.Missing {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		cmd := InstallCommand(opts.CondaPath, opts.Env, opts.Mirror, pkg)
		logf("install: %s", cmd)
		res, err := exec.Execute(ctx, cmd)
		switch {
		case err != nil:
			logf("warning: install %s: %v", pkg, err)
			rep.Failed = append(rep.Failed, pkg)
		case res.HasStderr() || res.ExitStatus != 0:
			logf("warning: install %s: %s", pkg, strings.TrimSpace(res.Stderr))
			rep.Failed = append(rep.Failed, pkg)
		default:
			rep.Installed = append(rep.Installed, pkg)
		}
	}

	installed, err = listInstalled(ctx, exec, list)
	if err != nil {
		return rep, err
	}
	if still := Missing(opts.Required, installed); len(still) > 0 {
		return rep, &MissingError{Packages: still}
	}
	return rep, nil
}

func listInstalled(ctx context.Context, exec remote.Executor, cmd string) (map[string]struct{}, error) {
	res, err := exec.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("pip list: %w", err)
	}
	return ParsePipList(res.Stdout), nil
}
