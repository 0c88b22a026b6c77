//go:build windows

package runlock

import (
	"os"
	"syscall"
)

// Alive reports whether the recorded process exists.
// On Windows, FindProcess always succeeds; test with Signal(0) equivalent.
func (p *PIDFile) Alive() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}
