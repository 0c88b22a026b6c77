// Package syncer empties a remote directory and mirrors a local tree into it.
package syncer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/courseforge/internal/remote"
)

// Logf receives progress lines.
type Logf func(format string, args ...any)

func (l Logf) printf(format string, args ...any) {
	if l != nil {
		l(format, args...)
	}
}

// CleanCommand deletes every file and subdirectory, hidden ones included, under root.
func CleanCommand(root string) string {
	return remote.Cmd(
		remote.Cd(root),
		"del /F /S /Q /A *.*",
		`for /D %i in (*) do rd /s /q "%i"`,
		`for /D %i in (.*) do rd /s /q "%i"`,
	)
}

// ListCommand lists root including hidden entries.
func ListCommand(root string) string {
	return remote.Cmd(remote.Cd(root), "dir /a")
}

// Listing is the parsed form of a cmd.exe "dir /a" output.
type Listing struct {
	// Dirs are the directory entries other than "." and "..".
	Dirs []string
	// Files is the count reported on the summary line, -1 when none was found.
	Files int
}

// Clean reports whether the listing shows an empty directory.
func (l Listing) Clean() bool {
	return len(l.Dirs) == 0 && l.Files == 0
}

var fileCountLine = regexp.MustCompile(`^\s*([\d,.]+)\s+(?:File\(s\)|个文件)`)

// ClassifyListing parses dir output in either English or Chinese console locale.
func ClassifyListing(out string) Listing {
	l := Listing{Files: -1}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r ")
		if i := strings.Index(line, "<DIR>"); i >= 0 {
			name := strings.TrimSpace(line[i+len("<DIR>"):])
			if name != "." && name != ".." {
				l.Dirs = append(l.Dirs, name)
			}
			continue
		}
		if m := fileCountLine.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(m[1]))
			if err == nil {
				l.Files = n
			}
		}
	}
	return l
}

// NotCleanError reports leftover entries after a clean.
type NotCleanError struct {
	Root    string
	Listing Listing
}

func (e *NotCleanError) Error() string {
	switch {
	case e.Listing.Files < 0 && len(e.Listing.Dirs) == 0:
		return fmt.Sprintf("%s: could not read file count from listing", e.Root)
	case len(e.Listing.Dirs) > 0:
		return fmt.Sprintf("%s: %d files and directories %s remain", e.Root, max(e.Listing.Files, 0), strings.Join(e.Listing.Dirs, ", "))
	default:
		return fmt.Sprintf("%s: %d files remain", e.Root, e.Listing.Files)
	}
}

// Clean empties root on the remote host and verifies the result with a listing.
// Errors from the delete command are logged only; the listing is authoritative.
func Clean(ctx context.Context, exec remote.Executor, root string, logf Logf) error {
	cmd := CleanCommand(root)
	logf.printf("clean: %s", cmd)
	res, err := exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("clean %s: %w", root, err)
	}
	if res.HasStderr() {
		logf.printf("clean stderr: %s", strings.TrimSpace(res.Stderr))
	}

	cmd = ListCommand(root)
	logf.printf("check: %s", cmd)
	res, err = exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("list %s: %w", root, err)
	}
	if res.HasStderr() {
		return fmt.Errorf("list %s: %s", root, strings.TrimSpace(res.Stderr))
	}

	listing := ClassifyListing(res.Stdout)
	if !listing.Clean() {
		return &NotCleanError{Root: root, Listing: listing}
	}
	return nil
}
