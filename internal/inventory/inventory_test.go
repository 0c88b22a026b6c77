package inventory

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/courseforge/internal/remote/remotetest"
)

func writeFiles(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, root+"/"+p, []byte(content), 0o644))
	}
}

func TestBuild_LocalTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "/src/app", map[string]string{
		"main.py":                   "print('hi')",
		"ui/window.py":              "class W: pass",
		"ui/__pycache__/window.pyc": "xx",
		"ui/helpers.pyc":            "xx",
		".git/HEAD":                 "ref",
		"images/app.ico":            "icon",
		"deep/a/b/dist/App.exe":     "bin",
		"deep/a/b/keep.txt":         "k",
		"CourseForgeMini.spec":      "spec",
	})

	inv := Build(LocalTree{Fs: fs, Root: "/src/app"}, MustRules(DefaultExcludes), nil)

	assert.Equal(t, Inventory{
		"main.py":           11,
		"ui/window.py":      13,
		"images/app.ico":    4,
		"deep/a/b/keep.txt": 1,
	}, inv)
}

func TestBuild_SkipsUnreadableDirs(t *testing.T) {
	tr := remotetest.NewTransfer()
	writeFiles(t, tr.Fs, "/remote/app", map[string]string{
		"main.py":       "abc",
		"locked/key.py": "secret",
	})
	tr.Unreadable["/remote/app/locked"] = true

	var warned []string
	inv := Build(RemoteTree{Lister: tr, Root: "/remote/app/"}, MustRules(nil), func(dir string, err error) {
		warned = append(warned, dir)
		assert.Error(t, err)
	})

	assert.Equal(t, Inventory{"main.py": 3}, inv)
	assert.Equal(t, []string{"locked"}, warned)
}

func TestBuild_MissingRoot(t *testing.T) {
	var warned int
	inv := Build(LocalTree{Fs: afero.NewMemMapFs(), Root: "/nope"}, MustRules(nil), func(string, error) { warned++ })
	assert.Empty(t, inv)
	assert.Equal(t, 1, warned)
}

func TestInventory_Dirs(t *testing.T) {
	inv := Inventory{"a/b/c.txt": 1, "a/d.txt": 1, "e/f.txt": 1, "root.txt": 1}
	assert.Equal(t, []string{"a", "e", "a/b"}, inv.Dirs())
	assert.Equal(t, []string{"a/b/c.txt", "a/d.txt", "e/f.txt", "root.txt"}, inv.Paths())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		local  Inventory
		remote Inventory
		ok     bool
		check  func(t *testing.T, d Diff)
	}{
		{
			name:   "identical",
			local:  Inventory{"a": 1, "b/c": 2},
			remote: Inventory{"a": 1, "b/c": 2},
			ok:     true,
		},
		{
			name:   "missing on remote",
			local:  Inventory{"a": 1, "b": 2},
			remote: Inventory{"a": 1},
			check: func(t *testing.T, d Diff) {
				assert.Equal(t, []string{"b"}, d.Missing)
			},
		},
		{
			name:   "size mismatch",
			local:  Inventory{"a": 10},
			remote: Inventory{"a": 9},
			check: func(t *testing.T, d Diff) {
				assert.Equal(t, []SizeMismatch{{Path: "a", Local: 10, Remote: 9}}, d.Mismatched)
			},
		},
		{
			name:   "extra on remote",
			local:  Inventory{"a": 1},
			remote: Inventory{"a": 1, "stale": 3},
			check: func(t *testing.T, d Diff) {
				assert.Equal(t, []string{"stale"}, d.Extra)
				assert.Equal(t, 1, d.LocalCount)
				assert.Equal(t, 2, d.RemoteCount)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compare(tt.local, tt.remote)
			assert.Equal(t, tt.ok, d.OK())
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestMismatchError(t *testing.T) {
	d := Compare(Inventory{"a": 1, "b": 2, "c": 3}, Inventory{"a": 1, "c": 4})
	var err error = &MismatchError{Diff: d}

	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Contains(t, err.Error(), "file count mismatch: local 3, remote 2")
	assert.Contains(t, err.Error(), "missing on remote: b")
	assert.Contains(t, err.Error(), "size mismatch c: local 3, remote 4")
}

func TestRules(t *testing.T) {
	r := MustRules(DefaultExcludes)
	assert.True(t, r.Excludes("x.pyc"))
	assert.True(t, r.Excludes("venv"))
	assert.False(t, r.Excludes("venv2"))
	assert.False(t, r.Excludes("main.py"))

	_, err := NewRules([]string{"[bad"})
	assert.Error(t, err)
}
