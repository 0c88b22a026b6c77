package remote

import (
	"context"
	"fmt"
	"strings"
)

// Result is the structured outcome of one remote command.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// HasStderr reports whether the command wrote anything to its error stream.
func (r Result) HasStderr() bool {
	return strings.TrimSpace(r.Stderr) != ""
}

// Executor runs a single command on the remote host.
type Executor interface {
	Execute(ctx context.Context, command string) (Result, error)
}

// Cmd joins steps with && and wraps them for cmd.exe.
func Cmd(steps ...string) string {
	return `cmd.exe /c "` + strings.Join(steps, " && ") + `"`
}

// Activate is the conda activation step for env under condaPath.
func Activate(condaPath, env string) string {
	return fmt.Sprintf(`"%s\Scripts\activate.bat" %s`, strings.TrimRight(condaPath, `\`), env)
}

// Cd changes drive and directory.
func Cd(dir string) string {
	return "cd /d " + dir
}

// InEnv runs steps inside an activated conda environment.
func InEnv(condaPath, env string, steps ...string) string {
	return Cmd(append([]string{Activate(condaPath, env)}, steps...)...)
}

// WinJoin joins Windows path elements with backslashes.
func WinJoin(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for i, e := range elem {
		if i > 0 {
			e = strings.TrimLeft(e, `\/`)
		}
		if i < len(elem)-1 {
			e = strings.TrimRight(e, `\/`)
		}
		if e != "" {
			parts = append(parts, strings.ReplaceAll(e, "/", `\`))
		}
	}
	return strings.Join(parts, `\`)
}
