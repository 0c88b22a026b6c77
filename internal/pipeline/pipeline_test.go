package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/courseforge/internal/inventory"
	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/remote"
	"github.com/joescharf/courseforge/internal/remote/remotetest"
)

const cleanListing = `2025/01/02  10:00    <DIR>          .
2025/01/02  10:00    <DIR>          ..
               0 File(s)              0 bytes
`

const pipList = `Package Version
anthropic 1
openai 1
pyqt6 1
python-dotenv 1
markdown 1
setuptools 1
zhipuai 1
pyinstaller 1
`

type fakeSession struct {
	*remotetest.Executor
	*remotetest.Transfer
	closes int
}

func (f *fakeSession) Close() error {
	f.closes++
	return nil
}

type memRecorder struct {
	created, updated int
	last             models.Run
}

func (r *memRecorder) CreateRun(_ context.Context, run *models.Run) error {
	r.created++
	run.ID = "run-1"
	r.last = *run
	return nil
}

func (r *memRecorder) UpdateRun(_ context.Context, run *models.Run) error {
	r.updated++
	r.last = *run
	return nil
}

type localFunc func(ctx context.Context) error

func (f localFunc) Build(ctx context.Context) error { return f(ctx) }

func testMachine() *models.Machine {
	return &models.Machine{
		ID: "1", Name: "win-01", Host: "10.0.0.5",
		RemoteRoot: `D:\iCode\App`, CondaPath: `C:\conda`, CondaEnv: "pro",
	}
}

func healthySession(t *testing.T) *fakeSession {
	t.Helper()
	tr := remotetest.NewTransfer()
	require.NoError(t, tr.Fs.MkdirAll("D:/iCode/App", 0o755))
	ex := (&remotetest.Executor{}).
		On("dir /a", remote.Result{Stdout: cleanListing}).
		On("pip list", remote.Result{Stdout: pipList}).
		On("python --version", remote.Result{Stdout: "Python 3.11.4"}).
		On("conda --version", remote.Result{Stdout: "conda 24.1.2"}).
		On("dir main.py", remote.Result{Stdout: "main.py"}).
		On(`dist\CourseForgeMini.exe`, remote.Result{Stdout: "CourseForgeMini.exe"})
	return &fakeSession{Executor: ex, Transfer: tr}
}

func newController(t *testing.T, sess *fakeSession, openErr error, cfg Config) *Controller {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/main.py", []byte("print(1)"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/proj/core/api.py", []byte("x"), 0o644))
	cfg.Fs = fs
	cfg.LocalRoot = "/proj"
	cfg.Rules = inventory.MustRules(inventory.DefaultExcludes)
	clock := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	cfg.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	open := func(context.Context, *models.Machine) (Session, error) {
		if openErr != nil {
			return nil, openErr
		}
		return sess, nil
	}
	return New(open, cfg)
}

func stageNames(run *models.Run) []models.Stage {
	var out []models.Stage
	for _, s := range run.Stages {
		out = append(out, s.Stage)
	}
	return out
}

func TestRun_WindowsSuccess(t *testing.T) {
	sess := healthySession(t)
	rec := &memRecorder{}
	c := newController(t, sess, nil, Config{Recorder: rec})

	run, err := c.Run(context.Background(), testMachine(), models.TargetWindows)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, models.RemoteStages, stageNames(run))
	assert.False(t, run.Failed())
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, []string{"D:/iCode/App/core/api.py", "D:/iCode/App/main.py"}, sess.Uploads)
	assert.Equal(t, 1, rec.created)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, models.RunStatusSucceeded, rec.last.Status)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, "win-01", run.MachineName)
}

func TestRun_ShortCircuitsAndClosesOnce(t *testing.T) {
	for i, stage := range models.RemoteStages {
		t.Run(string(stage), func(t *testing.T) {
			sess := healthySession(t)
			breakStage(t, sess, stage)
			localCalled := false
			c := newController(t, sess, nil, Config{Local: localFunc(func(context.Context) error {
				localCalled = true
				return nil
			})})

			run, err := c.Run(context.Background(), testMachine(), models.TargetBoth)
			require.NoError(t, err)

			assert.Equal(t, models.RunStatusFailed, run.Status)
			assert.Equal(t, stage, run.FailedStage)
			require.Len(t, run.Stages, i+1)
			assert.False(t, run.Stages[i].OK)
			assert.NotEmpty(t, run.Message)
			assert.Equal(t, 1, sess.closes)
			assert.False(t, localCalled)
		})
	}
}

// breakStage makes exactly one stage fail.
func breakStage(t *testing.T, sess *fakeSession, stage models.Stage) {
	t.Helper()
	switch stage {
	case models.StageClean:
		sess.Executor = (&remotetest.Executor{}).On("dir /a", remote.Result{Stdout: "1 File(s)"})
	case models.StageSync:
		sess.Mutate = func(_ string, data []byte) []byte { return append(data, '!') }
	case models.StageDependencies:
		sess.Executor = (&remotetest.Executor{}).
			On("dir /a", remote.Result{Stdout: cleanListing}).
			On("pip list", remote.Result{Stdout: "anthropic 1"})
	case models.StageEnvironment:
		sess.Executor = (&remotetest.Executor{}).
			On("dir /a", remote.Result{Stdout: cleanListing}).
			On("pip list", remote.Result{Stdout: pipList}).
			On("python --version", remote.Result{Stdout: "Python 2.7.18"})
	case models.StageBuild:
		sess.Executor = (&remotetest.Executor{}).
			On("dir /a", remote.Result{Stdout: cleanListing}).
			On("pip list", remote.Result{Stdout: pipList}).
			On("python --version", remote.Result{Stdout: "Python 3.11.4"}).
			On("dir main.py", remote.Result{Stderr: "File Not Found"})
	case models.StageVerifyArtifact:
		sess.Executor = (&remotetest.Executor{}).
			On("dir /a", remote.Result{Stdout: cleanListing}).
			On("pip list", remote.Result{Stdout: pipList}).
			On("python --version", remote.Result{Stdout: "Python 3.11.4"}).
			On("dir main.py", remote.Result{Stdout: "main.py"})
	default:
		t.Fatalf("unhandled stage %s", stage)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	c := newController(t, nil, errors.New("dial tcp 10.0.0.5:22: i/o timeout"), Config{})

	run, err := c.Run(context.Background(), testMachine(), models.TargetWindows)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.StageConnect, run.FailedStage)
	assert.Contains(t, run.Message, "i/o timeout")
}

func TestRun_MacOnly(t *testing.T) {
	opened := false
	calls := 0
	c := New(func(context.Context, *models.Machine) (Session, error) {
		opened = true
		return nil, errors.New("unexpected")
	}, Config{Local: localFunc(func(context.Context) error {
		calls++
		return nil
	})})

	run, err := c.Run(context.Background(), nil, models.TargetMac)
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []models.Stage{models.StageLocalBuild}, stageNames(run))
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
}

func TestRun_BothRunsLocalAfterClose(t *testing.T) {
	sess := healthySession(t)
	var closesAtLocal int
	c := newController(t, sess, nil, Config{Local: localFunc(func(context.Context) error {
		closesAtLocal = sess.closes
		return errors.New("pyinstaller exited with status 1")
	})})

	run, err := c.Run(context.Background(), testMachine(), models.TargetBoth)
	require.NoError(t, err)
	assert.Equal(t, 1, closesAtLocal)
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, models.StageLocalBuild, run.FailedStage)
	assert.Len(t, run.Stages, len(models.RemoteStages)+1)
}

func TestRun_ConfirmDeclined(t *testing.T) {
	sess := healthySession(t)
	c := newController(t, sess, nil, Config{Confirm: func(_ context.Context, s models.Stage) error {
		if s == models.StageSync {
			return errors.New("declined")
		}
		return nil
	}})

	run, err := c.Run(context.Background(), testMachine(), models.TargetWindows)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, []models.Stage{models.StageClean, models.StageSync}, stageNames(run))
	assert.Contains(t, run.Message, "stopped after sync")
	assert.Equal(t, 1, sess.closes)
}

func TestRun_Cancelled(t *testing.T) {
	sess := healthySession(t)
	ctx, cancel := context.WithCancel(context.Background())
	c := newController(t, sess, nil, Config{Confirm: func(context.Context, models.Stage) error {
		cancel()
		return nil
	}})

	run, err := c.Run(ctx, testMachine(), models.TargetWindows)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Equal(t, models.StageSync, run.FailedStage)
	assert.Equal(t, 1, sess.closes)
}

func TestRun_InvalidArguments(t *testing.T) {
	c := New(nil, Config{})
	_, err := c.Run(context.Background(), testMachine(), models.Target("linux"))
	assert.Error(t, err)
	_, err = c.Run(context.Background(), nil, models.TargetWindows)
	assert.Error(t, err)
	_, err = c.Run(context.Background(), nil, models.TargetMac)
	assert.Error(t, err)
}

func TestRun_Progress(t *testing.T) {
	sess := healthySession(t)
	var started, okEnded []models.Stage
	var failed models.Stage
	breakStage(t, sess, models.StageEnvironment)
	c := newController(t, sess, nil, Config{Progress: func(s models.Stage, res *models.StageResult) {
		switch {
		case res == nil:
			started = append(started, s)
		case res.OK:
			okEnded = append(okEnded, s)
		default:
			failed = s
		}
	}})

	_, err := c.Run(context.Background(), testMachine(), models.TargetWindows)
	require.NoError(t, err)
	assert.Equal(t, models.RemoteStages[:4], started)
	assert.Equal(t, models.RemoteStages[:3], okEnded)
	assert.Equal(t, models.StageEnvironment, failed)
}
