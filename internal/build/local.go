package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/joescharf/courseforge/internal/localexec"
)

// DefaultShell and DefaultShellRC run the local build through the user's login profile.
const (
	DefaultShell   = "zsh"
	DefaultShellRC = "~/.zshrc"
)

// Local packages the app on the workstation as a macOS bundle.
type Local struct {
	Runner  localexec.Runner
	Fs      afero.Fs
	Root    string
	Env     string // conda env activated before pyinstaller
	Shell   string
	ShellRC string
	App     App
	Logf    func(format string, args ...any)
}

func (l *Local) logf(format string, args ...any) {
	if l.Logf != nil {
		l.Logf(format, args...)
	}
}

// Bundle is the path of the expected .app.
func (l *Local) Bundle() string {
	return filepath.Join(l.Root, "dist", l.App.WithDefaults().Name+".app")
}

// PackScript is the shell script passed to Shell -c.
func (l *Local) PackScript() string {
	app := l.App.WithDefaults()
	rc := l.ShellRC
	if rc == "" {
		rc = DefaultShellRC
	}
	steps := []string{"source " + rc}
	if l.Env != "" {
		steps = append(steps, "conda activate "+l.Env)
	}
	steps = append(steps, strings.Join([]string{
		"pyinstaller", "--clean", "--windowed", "--onedir",
		"--name", "'" + app.Name + "'",
		"--icon", app.MacIcon,
		"--add-data", "'Info.plist:.'",
		"--noupx",
		"--osx-bundle-identifier", "'" + app.BundleID + "'",
		app.EntryPoint,
	}, " "))
	return strings.Join(steps, " && ")
}

// Clean removes build, dist and any .spec files from the project root.
func (l *Local) Clean() error {
	for _, d := range []string{"build", "dist"} {
		if err := l.Fs.RemoveAll(filepath.Join(l.Root, d)); err != nil {
			return fmt.Errorf("removing %s: %w", d, err)
		}
	}
	specs, err := afero.Glob(l.Fs, filepath.Join(l.Root, "*.spec"))
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := l.Fs.Remove(s); err != nil {
			return fmt.Errorf("removing %s: %w", filepath.Base(s), err)
		}
	}
	return nil
}

// Build cleans old output, runs pyinstaller, checks the bundle and fixes its permissions.
// It is not retried.
func (l *Local) Build(ctx context.Context) error {
	if err := l.Clean(); err != nil {
		return err
	}
	l.logf("removed old build output in %s", l.Root)

	shell := l.Shell
	if shell == "" {
		shell = DefaultShell
	}
	script := l.PackScript()
	l.logf("pack: %s -c %q", shell, script)
	res, err := l.Runner.Run(ctx, l.Root, shell, "-c", script)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &Error{Step: fmt.Sprintf("pyinstaller exited with status %d", res.ExitCode), Output: strings.TrimSpace(res.Stderr)}
	}

	bundle := l.Bundle()
	if ok, _ := afero.DirExists(l.Fs, bundle); !ok {
		return &Error{Step: "bundle " + bundle + " not found"}
	}
	for _, fix := range [][]string{{"chmod", "-R", "755", bundle}, {"xattr", "-cr", bundle}} {
		if res, err := l.Runner.Run(ctx, l.Root, fix[0], fix[1:]...); err != nil || res.ExitCode != 0 {
			l.logf("warning: %s failed: %v %s", fix[0], err, strings.TrimSpace(res.Stderr))
		}
	}
	return nil
}
