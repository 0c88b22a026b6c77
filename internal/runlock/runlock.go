// Package runlock keeps two deploy pipelines from running on one workstation at once.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// HeldError is returned when another process owns the lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("another deploy is running (pid %d, lock %s)", e.PID, e.Path)
	}
	return fmt.Sprintf("another deploy is running (lock %s)", e.Path)
}

// Lock is an advisory file lock plus a PID file naming its holder.
type Lock struct {
	path string
	lock *flock.Flock
	pid  *PIDFile
}

// New returns a lock at path. The PID is written next to it with a .pid suffix.
func New(path string) *Lock {
	return &Lock{
		path: path,
		lock: flock.New(path),
		pid:  &PIDFile{Path: path + ".pid"},
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// TryAcquire takes the lock without blocking. It returns *HeldError when another process holds it.
func (l *Lock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		held := &HeldError{Path: l.path}
		if pid, alive := l.pid.Alive(); alive {
			held.PID = pid
		}
		return held
	}
	if err := l.pid.WritePID(os.Getpid()); err != nil {
		_ = l.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release drops the lock and removes the PID file.
func (l *Lock) Release() error {
	_ = l.pid.Remove()
	return l.lock.Unlock()
}

// Holder returns the PID recorded by the current holder, if that process is alive.
// A stale PID file from a crashed run reports false.
func (l *Lock) Holder() (int, bool) {
	return l.pid.Alive()
}
