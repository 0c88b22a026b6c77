//go:build !windows

package runlock

import "syscall"

// Alive reports whether the recorded process exists.
func (p *PIDFile) Alive() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	// Signal 0 tests if the process exists without sending a signal.
	return pid, syscall.Kill(pid, 0) == nil
}
