// Package pipeline runs the gated deploy stages against one build machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/joescharf/courseforge/internal/build"
	"github.com/joescharf/courseforge/internal/deps"
	"github.com/joescharf/courseforge/internal/envcheck"
	"github.com/joescharf/courseforge/internal/inventory"
	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/remote"
	"github.com/joescharf/courseforge/internal/syncer"
)

// Session is everything the remote stages need from an open connection.
type Session interface {
	remote.Executor
	syncer.Transfer
	Close() error
}

// Opener connects to a machine.
type Opener func(ctx context.Context, m *models.Machine) (Session, error)

// OpenRemote adapts remote.Open to an Opener.
func OpenRemote(opts remote.Options) Opener {
	return func(ctx context.Context, m *models.Machine) (Session, error) {
		s, err := remote.Open(ctx, m, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Recorder persists run history.
type Recorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
}

// LocalBuilder is the workstation build step.
type LocalBuilder interface {
	Build(ctx context.Context) error
}

// Config wires the stages.
type Config struct {
	Fs        afero.Fs
	LocalRoot string
	Rules     inventory.Rules
	Required  []string
	Mirror    string
	// PythonPrefix is the expected start of "python --version" output.
	PythonPrefix string
	App          build.App
	Local        LocalBuilder

	// Confirm is called after each successful stage; returning an error stops the run.
	Confirm func(ctx context.Context, stage models.Stage) error
	// Progress is called when a stage starts (nil result) and when it ends.
	Progress func(stage models.Stage, result *models.StageResult)
	Recorder Recorder
	Logf     func(format string, args ...any)
	Now      func() time.Time
}

// Stage is one named step.
type Stage struct {
	Name models.Stage
	Run  func(ctx context.Context) error
}

// Controller runs pipelines sequentially.
type Controller struct {
	cfg  Config
	open Opener
}

// New returns a Controller.
func New(open Opener, cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	return &Controller{cfg: cfg, open: open}
}

// RemoteStages returns the ordered remote stages bound to sess.
func (c *Controller) RemoteStages(sess Session, m *models.Machine) []Stage {
	logf := c.cfg.Logf
	b := &build.Remote{Exec: sess, Root: m.RemoteRoot, CondaPath: m.CondaPath, Env: m.CondaEnv, App: c.cfg.App, Logf: logf}
	return []Stage{
		{models.StageClean, func(ctx context.Context) error {
			return syncer.Clean(ctx, sess, m.RemoteRoot, logf)
		}},
		{models.StageSync, func(ctx context.Context) error {
			rep, err := syncer.Upload(ctx, sess, syncer.UploadOptions{
				Fs:         c.cfg.Fs,
				LocalRoot:  c.cfg.LocalRoot,
				RemoteRoot: m.TransferRoot(),
				Rules:      c.cfg.Rules,
				Logf:       logf,
			})
			if err == nil {
				logf("uploaded %d files, verified %d on remote", rep.Uploaded, len(rep.Remote))
			}
			return err
		}},
		{models.StageDependencies, func(ctx context.Context) error {
			_, err := deps.Ensure(ctx, sess, deps.Options{
				CondaPath: m.CondaPath, Env: m.CondaEnv,
				Required: c.cfg.Required, Mirror: c.cfg.Mirror, Logf: logf,
			})
			return err
		}},
		{models.StageEnvironment, func(ctx context.Context) error {
			return envcheck.Check(ctx, sess, envcheck.Options{
				CondaPath: m.CondaPath, Env: m.CondaEnv,
				PythonPrefix: c.cfg.PythonPrefix, Logf: logf,
			})
		}},
		{models.StageBuild, b.Build},
		{models.StageVerifyArtifact, b.Verify},
	}
}

// Run executes target against m. m may be nil for a mac-only run.
// Stage failures are reported in the returned Run, not as an error.
func (c *Controller) Run(ctx context.Context, m *models.Machine, target models.Target) (*models.Run, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown target %q", target)
	}
	if target.Remote() && m == nil {
		return nil, errors.New("a machine is required for a windows build")
	}
	if target.Local() && c.cfg.Local == nil {
		return nil, errors.New("local build is not configured")
	}

	run := &models.Run{Target: target, Status: models.RunStatusRunning, StartedAt: c.cfg.Now()}
	if m != nil {
		run.MachineID, run.MachineName, run.Host = m.ID, m.Name, m.Host
	}
	c.record(ctx, run, true)

	ok := true
	if target.Remote() {
		ok = c.runRemote(ctx, run, m)
	}
	if ok && target.Local() {
		ok = c.runStage(ctx, run, Stage{models.StageLocalBuild, c.cfg.Local.Build})
	}

	c.finish(ctx, run, ok)
	return run, nil
}

func (c *Controller) runRemote(ctx context.Context, run *models.Run, m *models.Machine) bool {
	start := c.cfg.Now()
	c.cfg.Logf("connecting to %s (%s)", m.Name, m.Address())
	sess, err := c.open(ctx, m)
	if err != nil {
		c.fail(run, models.StageConnect, err, c.cfg.Now().Sub(start))
		return false
	}
	var once sync.Once
	closeSession := func() {
		once.Do(func() {
			if err := sess.Close(); err != nil {
				c.cfg.Logf("warning: closing session: %v", err)
			}
		})
	}
	defer closeSession()

	for _, st := range c.RemoteStages(sess, m) {
		if !c.runStage(ctx, run, st) {
			return false
		}
	}
	closeSession()
	return true
}

func (c *Controller) runStage(ctx context.Context, run *models.Run, st Stage) bool {
	if err := ctx.Err(); err != nil {
		c.fail(run, st.Name, err, 0)
		return false
	}
	c.progress(st.Name, nil)
	start := c.cfg.Now()
	err := st.Run(ctx)
	elapsed := c.cfg.Now().Sub(start)
	if err != nil {
		c.fail(run, st.Name, err, elapsed)
		return false
	}
	run.Stages = append(run.Stages, models.StageResult{Stage: st.Name, OK: true, Duration: elapsed})
	c.progress(st.Name, &run.Stages[len(run.Stages)-1])
	c.record(ctx, run, false)

	if c.cfg.Confirm != nil {
		if err := c.cfg.Confirm(ctx, st.Name); err != nil {
			run.Message = fmt.Sprintf("stopped after %s: %v", st.Name, err)
			c.cfg.Logf("%s", run.Message)
			return false
		}
	}
	return true
}

func (c *Controller) fail(run *models.Run, stage models.Stage, err error, elapsed time.Duration) {
	run.Stages = append(run.Stages, models.StageResult{Stage: stage, Message: err.Error(), Duration: elapsed})
	run.FailedStage = stage
	run.Message = err.Error()
	c.progress(stage, &run.Stages[len(run.Stages)-1])
}

func (c *Controller) progress(stage models.Stage, res *models.StageResult) {
	if c.cfg.Progress != nil {
		c.cfg.Progress(stage, res)
	}
}

func (c *Controller) finish(ctx context.Context, run *models.Run, ok bool) {
	now := c.cfg.Now()
	run.EndedAt = &now
	switch {
	case ok:
		run.Status = models.RunStatusSucceeded
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		run.Status = models.RunStatusCancelled
	default:
		run.Status = models.RunStatusFailed
	}
	// The run itself must finish even if history cannot be written.
	c.record(context.WithoutCancel(ctx), run, false)
}

func (c *Controller) record(ctx context.Context, run *models.Run, create bool) {
	if c.cfg.Recorder == nil {
		return
	}
	var err error
	if create {
		err = c.cfg.Recorder.CreateRun(ctx, run)
	} else {
		err = c.cfg.Recorder.UpdateRun(ctx, run)
	}
	if err != nil {
		c.cfg.Logf("warning: recording run: %v", err)
	}
}
