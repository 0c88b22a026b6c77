// Package build drives the PyInstaller packaging steps on a remote Windows machine
// and on the local macOS workstation.
package build

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/courseforge/internal/remote"
)

// Defaults for the packaged desktop app.
const (
	DefaultAppName    = "CourseForgeMini"
	DefaultEntryPoint = "main.py"
	DefaultWinIcon    = "images/app.ico"
	DefaultMacIcon    = "images/app.icns"
	DefaultBundleID   = "com.courseforge.pro"
)

// App describes what gets packaged.
type App struct {
	Name       string
	EntryPoint string
	WinIcon    string
	MacIcon    string
	BundleID   string
	// ExcludeModules are passed to pyinstaller on Windows.
	ExcludeModules []string
}

// DefaultApp returns the desktop app packaging defaults.
func DefaultApp() App {
	return App{
		Name:           DefaultAppName,
		EntryPoint:     DefaultEntryPoint,
		WinIcon:        DefaultWinIcon,
		MacIcon:        DefaultMacIcon,
		BundleID:       DefaultBundleID,
		ExcludeModules: []string{"PyQt5"},
	}
}

// WithDefaults fills empty fields from DefaultApp.
func (a App) WithDefaults() App {
	d := DefaultApp()
	if a.Name == "" {
		a.Name = d.Name
	}
	if a.EntryPoint == "" {
		a.EntryPoint = d.EntryPoint
	}
	if a.WinIcon == "" {
		a.WinIcon = d.WinIcon
	}
	if a.MacIcon == "" {
		a.MacIcon = d.MacIcon
	}
	if a.BundleID == "" {
		a.BundleID = d.BundleID
	}
	if a.ExcludeModules == nil {
		a.ExcludeModules = d.ExcludeModules
	}
	return a
}

// Remote packages the app on a Windows build machine.
type Remote struct {
	Exec      remote.Executor
	Root      string // Windows path of the synced project
	CondaPath string
	Env       string
	App       App
	Logf      func(format string, args ...any)
}

// Error is a build failure carrying the relevant command output.
type Error struct {
	Step   string
	Output string
}

func (e *Error) Error() string {
	if e.Output == "" {
		return e.Step
	}
	return e.Step + ":\n" + e.Output
}

func (r *Remote) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Exe is the Windows path of the expected artifact.
func (r *Remote) Exe() string {
	return remote.WinJoin(r.Root, "dist", r.App.WithDefaults().Name+".exe")
}

// PackCommand is the pyinstaller invocation run inside the conda env.
func (r *Remote) PackCommand() string {
	app := r.App.WithDefaults()
	args := []string{
		"pyinstaller", "--clean", "--windowed", "--onefile",
		"--name", app.Name,
		"--icon", app.WinIcon,
	}
	for _, m := range app.ExcludeModules {
		args = append(args, "--exclude-module", m)
	}
	args = append(args, app.EntryPoint)
	return remote.InEnv(r.CondaPath, r.Env, remote.Cd(r.Root), strings.Join(args, " "))
}

// Build checks the entry point exists and runs pyinstaller.
// Pyinstaller logs to stderr, so its output is logged rather than treated as failure.
func (r *Remote) Build(ctx context.Context) error {
	app := r.App.WithDefaults()
	gate := remote.Cmd(remote.Cd(r.Root), "dir "+app.EntryPoint)
	r.logf("check: %s", gate)
	res, err := r.Exec.Execute(ctx, gate)
	if err != nil {
		return fmt.Errorf("check %s: %w", app.EntryPoint, err)
	}
	if !strings.Contains(res.Stdout, app.EntryPoint) {
		return &Error{Step: app.EntryPoint + " not found in " + r.Root, Output: strings.TrimSpace(res.Stdout + "\n" + res.Stderr)}
	}

	pack := r.PackCommand()
	r.logf("pack: %s", pack)
	res, err = r.Exec.Execute(ctx, pack)
	if err != nil {
		return fmt.Errorf("pyinstaller: %w", err)
	}
	if out := strings.TrimSpace(res.Stdout); out != "" {
		r.logf("%s", out)
	}
	if res.HasStderr() {
		r.logf("%s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Verify checks the executable exists under dist.
func (r *Remote) Verify(ctx context.Context) error {
	exe := r.Exe()
	cmd := remote.Cmd("dir " + exe)
	r.logf("verify: %s", cmd)
	res, err := r.Exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("verify %s: %w", exe, err)
	}
	if !strings.Contains(res.Stdout, r.App.WithDefaults().Name+".exe") {
		return &Error{Step: "artifact " + exe + " not found", Output: strings.TrimSpace(res.Stdout + "\n" + res.Stderr)}
	}
	return nil
}
