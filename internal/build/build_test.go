package build

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/courseforge/internal/localexec"
	"github.com/joescharf/courseforge/internal/remote"
	"github.com/joescharf/courseforge/internal/remote/remotetest"
)

func newRemote(ex *remotetest.Executor) *Remote {
	return &Remote{Exec: ex, Root: `D:\iCode\App`, CondaPath: `C:\conda`, Env: "pro"}
}

func TestRemote_PackCommand(t *testing.T) {
	r := newRemote(nil)
	assert.Equal(t,
		`cmd.exe /c ""C:\conda\Scripts\activate.bat" pro && cd /d D:\iCode\App && pyinstaller --clean --windowed --onefile --name CourseForgeMini --icon images/app.ico --exclude-module PyQt5 main.py"`,
		r.PackCommand())
	assert.Equal(t, `D:\iCode\App\dist\CourseForgeMini.exe`, r.Exe())
}

func TestRemote_Build(t *testing.T) {
	t.Run("entry point present", func(t *testing.T) {
		ex := (&remotetest.Executor{}).
			On("dir main.py", remote.Result{Stdout: "2025/01/02  10:00   1,024 main.py"}).
			On("pyinstaller", remote.Result{Stderr: "INFO: Building EXE completed successfully."})
		require.NoError(t, newRemote(ex).Build(context.Background()))
		assert.Equal(t, 1, ex.Count("pyinstaller"))
	})

	t.Run("entry point missing", func(t *testing.T) {
		ex := (&remotetest.Executor{}).On("dir main.py", remote.Result{Stdout: " Directory of D:\\iCode\\App", Stderr: "File Not Found"})
		err := newRemote(ex).Build(context.Background())
		var be *Error
		require.ErrorAs(t, err, &be)
		assert.Contains(t, be.Output, "File Not Found")
		assert.Equal(t, 0, ex.Count("pyinstaller"))
	})

	t.Run("transport failure", func(t *testing.T) {
		boom := errors.New("broken pipe")
		ex := (&remotetest.Executor{}).On("dir main.py", remote.Result{Stdout: "main.py"}).Fail("pyinstaller", boom)
		assert.ErrorIs(t, newRemote(ex).Build(context.Background()), boom)
	})
}

func TestRemote_Verify(t *testing.T) {
	ex := (&remotetest.Executor{}).On(`dir D:\iCode\App\dist\CourseForgeMini.exe`,
		remote.Result{Stdout: " 1 File(s) CourseForgeMini.exe"}, remote.Result{Stdout: "File Not Found"})
	r := newRemote(ex)

	require.NoError(t, r.Verify(context.Background()))
	assert.Error(t, r.Verify(context.Background()))
}

type fakeRunner struct {
	fs    afero.Fs
	calls []string
	exit  int
	build bool
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) (localexec.Result, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if name == "zsh" && f.build {
		_ = f.fs.MkdirAll("/proj/dist/CourseForgeMini.app/Contents", 0o755)
	}
	if name == "zsh" {
		return localexec.Result{ExitCode: f.exit, Stderr: "boom"}, nil
	}
	return localexec.Result{}, nil
}

func seedProject(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/proj/main.py", "/proj/build/old.o", "/proj/dist/old.app/x", "/proj/CourseForgeMini.spec"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte("x"), 0o644))
	}
	return fs
}

func TestLocal_Build(t *testing.T) {
	fs := seedProject(t)
	runner := &fakeRunner{fs: fs, build: true}
	l := &Local{Runner: runner, Fs: fs, Root: "/proj", Env: "pro"}

	require.NoError(t, l.Build(context.Background()))

	exists, _ := afero.Exists(fs, "/proj/build")
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, "/proj/CourseForgeMini.spec")
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, "/proj/main.py")
	assert.True(t, exists)

	require.Len(t, runner.calls, 3)
	assert.Equal(t, "zsh -c source ~/.zshrc && conda activate pro && pyinstaller --clean --windowed --onedir --name 'CourseForgeMini' --icon images/app.icns --add-data 'Info.plist:.' --noupx --osx-bundle-identifier 'com.courseforge.pro' main.py", runner.calls[0])
	assert.Equal(t, "chmod -R 755 /proj/dist/CourseForgeMini.app", runner.calls[1])
	assert.Equal(t, "xattr -cr /proj/dist/CourseForgeMini.app", runner.calls[2])
}

func TestLocal_Build_Failures(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		fs := seedProject(t)
		runner := &fakeRunner{fs: fs, exit: 1}
		err := (&Local{Runner: runner, Fs: fs, Root: "/proj"}).Build(context.Background())
		var be *Error
		require.ErrorAs(t, err, &be)
		assert.Contains(t, be.Step, "status 1")
		assert.Len(t, runner.calls, 1)
	})

	t.Run("no bundle", func(t *testing.T) {
		fs := seedProject(t)
		err := (&Local{Runner: &fakeRunner{fs: fs}, Fs: fs, Root: "/proj"}).Build(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CourseForgeMini.app not found")
	})
}
