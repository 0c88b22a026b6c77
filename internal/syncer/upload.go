package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/joescharf/courseforge/internal/inventory"
)

// Transfer is the remote file transfer capability (an SFTP session).
type Transfer interface {
	ReadDir(p string) ([]os.FileInfo, error)
	Mkdir(p string) error
	Upload(ctx context.Context, fs afero.Fs, localPath, remotePath string) error
}

// UploadOptions configures Upload.
type UploadOptions struct {
	Fs         afero.Fs
	LocalRoot  string
	RemoteRoot string // slash-separated
	Rules      inventory.Rules
	Logf       Logf
}

// ErrNoLocalFiles is returned when the filtered local tree is empty.
var ErrNoLocalFiles = errors.New("no local files to upload")

// Report summarizes an upload.
type Report struct {
	Local    inventory.Inventory
	Remote   inventory.Inventory
	Dirs     int
	Uploaded int
	Diff     inventory.Diff
}

// Upload copies the filtered local tree to the remote root and verifies the remote copy
// by path and size. A verification failure is returned as *inventory.MismatchError.
// A missing local root or an empty filtered tree fails before anything is sent.
func Upload(ctx context.Context, t Transfer, opts UploadOptions) (Report, error) {
	local := inventory.LocalTree{Fs: opts.Fs, Root: opts.LocalRoot}
	rt := inventory.RemoteTree{Lister: t, Root: opts.RemoteRoot}
	warn := func(dir string, err error) {
		opts.Logf.printf("warning: skipping unreadable directory %q: %v", dir, err)
	}

	var rep Report
	// Unreadable subdirectories are skipped, an unreadable root is not.
	if _, err := local.ReadDir(""); err != nil {
		return rep, fmt.Errorf("read local root %s: %w", opts.LocalRoot, err)
	}
	rep.Local = inventory.Build(local, opts.Rules, warn)
	opts.Logf.printf("found %d local files", len(rep.Local))
	if len(rep.Local) == 0 {
		return rep, fmt.Errorf("%s: %w", opts.LocalRoot, ErrNoLocalFiles)
	}

	for _, d := range rep.Local.Dirs() {
		// Directories usually exist already.
		if err := t.Mkdir(rt.Abs(d)); err == nil {
			rep.Dirs++
		}
	}

	for _, p := range rep.Local.Paths() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		opts.Logf.printf("upload %s", p)
		if err := t.Upload(ctx, opts.Fs, local.Abs(p), rt.Abs(p)); err != nil {
			return rep, fmt.Errorf("upload %s: %w", p, err)
		}
		rep.Uploaded++
	}

	rep.Remote = inventory.Build(rt, opts.Rules, warn)
	rep.Diff = inventory.Compare(rep.Local, rep.Remote)
	if !rep.Diff.OK() {
		return rep, &inventory.MismatchError{Diff: rep.Diff}
	}
	return rep, nil
}
