// Package inventory builds relative-path to size maps of local and remote file
// trees and compares them.
package inventory

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Inventory maps slash-separated relative paths to byte sizes.
type Inventory map[string]int64

// Paths returns the keys in sorted order.
func (inv Inventory) Paths() []string {
	out := make([]string, 0, len(inv))
	for p := range inv {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Dirs returns every distinct parent directory implied by the paths, shallowest first.
// The root itself ("") is not included.
func (inv Inventory) Dirs() []string {
	seen := map[string]bool{}
	for p := range inv {
		for d := path.Dir(p); d != "." && d != "/" && !seen[d]; d = path.Dir(d) {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

// Tree lists directories by slash-separated path relative to its root ("" is the root).
type Tree interface {
	ReadDir(dir string) ([]os.FileInfo, error)
}

// Lister is the remote directory listing capability (an SFTP client).
type Lister interface {
	ReadDir(p string) ([]os.FileInfo, error)
}

// LocalTree is a Tree over an afero filesystem rooted at Root.
type LocalTree struct {
	Fs   afero.Fs
	Root string
}

// ReadDir implements Tree.
func (t LocalTree) ReadDir(dir string) ([]os.FileInfo, error) {
	return afero.ReadDir(t.Fs, t.Abs(dir))
}

// Abs returns the local path for a relative path.
func (t LocalTree) Abs(rel string) string {
	if rel == "" {
		return t.Root
	}
	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// RemoteTree is a Tree over a remote Lister rooted at Root (slash-separated).
type RemoteTree struct {
	Lister Lister
	Root   string
}

// ReadDir implements Tree.
func (t RemoteTree) ReadDir(dir string) ([]os.FileInfo, error) {
	return t.Lister.ReadDir(t.Abs(dir))
}

// Abs returns the remote path for a relative path.
func (t RemoteTree) Abs(rel string) string {
	root := strings.TrimRight(t.Root, "/")
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// WarnFunc receives directories that could not be read. They are skipped.
type WarnFunc func(dir string, err error)

// Build walks t from its root, skipping entries whose basename matches rules at any depth.
func Build(t Tree, rules Rules, warn WarnFunc) Inventory {
	inv := Inventory{}
	walk(t, "", rules, warn, inv)
	return inv
}

func walk(t Tree, dir string, rules Rules, warn WarnFunc, inv Inventory) {
	entries, err := t.ReadDir(dir)
	if err != nil {
		if warn != nil {
			warn(dir, err)
		}
		return
	}
	for _, e := range entries {
		name := e.Name()
		if rules.Excludes(name) {
			continue
		}
		rel := name
		if dir != "" {
			rel = dir + "/" + name
		}
		switch {
		case e.IsDir():
			walk(t, rel, rules, warn, inv)
		case e.Mode().IsRegular():
			inv[rel] = e.Size()
		}
	}
}

// SizeMismatch is a path present on both sides with different sizes.
type SizeMismatch struct {
	Path   string
	Local  int64
	Remote int64
}

// Diff is the divergence between a local and a remote inventory.
type Diff struct {
	LocalCount  int
	RemoteCount int
	Missing     []string
	Mismatched  []SizeMismatch
	Extra       []string
}

// OK reports whether both inventories hold the same paths with the same sizes.
func (d Diff) OK() bool {
	return d.LocalCount == d.RemoteCount && len(d.Missing) == 0 && len(d.Mismatched) == 0
}

// Compare diffs local against remote.
func Compare(local, remote Inventory) Diff {
	d := Diff{LocalCount: len(local), RemoteCount: len(remote)}
	for _, p := range local.Paths() {
		rs, ok := remote[p]
		switch {
		case !ok:
			d.Missing = append(d.Missing, p)
		case rs != local[p]:
			d.Mismatched = append(d.Mismatched, SizeMismatch{Path: p, Local: local[p], Remote: rs})
		}
	}
	for _, p := range remote.Paths() {
		if _, ok := local[p]; !ok {
			d.Extra = append(d.Extra, p)
		}
	}
	return d
}

// MismatchError reports a failed transfer verification.
type MismatchError struct {
	Diff Diff
}

func (e *MismatchError) Error() string {
	var parts []string
	if e.Diff.LocalCount != e.Diff.RemoteCount {
		parts = append(parts, fmt.Sprintf("file count mismatch: local %d, remote %d", e.Diff.LocalCount, e.Diff.RemoteCount))
	}
	if len(e.Diff.Missing) > 0 {
		parts = append(parts, "missing on remote: "+strings.Join(e.Diff.Missing, ", "))
	}
	for _, m := range e.Diff.Mismatched {
		parts = append(parts, fmt.Sprintf("size mismatch %s: local %d, remote %d", m.Path, m.Local, m.Remote))
	}
	if len(e.Diff.Extra) > 0 {
		parts = append(parts, "unexpected on remote: "+strings.Join(e.Diff.Extra, ", "))
	}
	return strings.Join(parts, "; ")
}
