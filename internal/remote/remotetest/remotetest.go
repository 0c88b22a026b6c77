// Package remotetest provides scripted stand-ins for remote sessions.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/joescharf/courseforge/internal/remote"
)

type rule struct {
	match   string
	results []remote.Result
	err     error
	calls   int
}

// Executor answers commands with canned results. The first rule whose match is a
// substring of the command wins; its results are returned in order and the last repeats.
type Executor struct {
	mu       sync.Mutex
	rules    []*rule
	Commands []string
}

// On registers results for commands containing match.
func (e *Executor) On(match string, results ...remote.Result) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &rule{match: match, results: results})
	return e
}

// Fail makes commands containing match return err.
func (e *Executor) Fail(match string, err error) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &rule{match: match, err: err})
	return e
}

// Execute implements remote.Executor.
func (e *Executor) Execute(_ context.Context, command string) (remote.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = append(e.Commands, command)
	for _, r := range e.rules {
		if !strings.Contains(command, r.match) {
			continue
		}
		if r.err != nil {
			return remote.Result{}, r.err
		}
		if len(r.results) == 0 {
			return remote.Result{}, nil
		}
		i := r.calls
		if i >= len(r.results) {
			i = len(r.results) - 1
		}
		r.calls++
		return r.results[i], nil
	}
	return remote.Result{}, nil
}

// Count returns how many executed commands contain match.
func (e *Executor) Count(match string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Commands {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}

// Transfer is an in-memory remote filesystem.
type Transfer struct {
	Fs         afero.Fs
	Unreadable map[string]bool
	FailUpload map[string]error
	// Mutate may rewrite uploaded bytes, e.g. to simulate truncation.
	Mutate func(remotePath string, data []byte) []byte

	Uploads []string
	Mkdirs  []string
}

// NewTransfer returns an empty in-memory remote.
func NewTransfer() *Transfer {
	return &Transfer{Fs: afero.NewMemMapFs(), Unreadable: map[string]bool{}, FailUpload: map[string]error{}}
}

// ReadDir lists p.
func (t *Transfer) ReadDir(p string) ([]os.FileInfo, error) {
	if t.Unreadable[p] {
		return nil, fmt.Errorf("permission denied: %s", p)
	}
	return afero.ReadDir(t.Fs, p)
}

// Mkdir creates p, failing when it exists.
func (t *Transfer) Mkdir(p string) error {
	t.Mkdirs = append(t.Mkdirs, p)
	if ok, _ := afero.DirExists(t.Fs, p); ok {
		return os.ErrExist
	}
	return t.Fs.Mkdir(p, 0o755)
}

// Upload copies a local file into the in-memory remote.
func (t *Transfer) Upload(_ context.Context, fs afero.Fs, localPath, remotePath string) error {
	if err := t.FailUpload[remotePath]; err != nil {
		return err
	}
	f, err := fs.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if t.Mutate != nil {
		data = t.Mutate(remotePath, data)
	}
	t.Uploads = append(t.Uploads, remotePath)
	return afero.WriteFile(t.Fs, remotePath, data, 0o644)
}
