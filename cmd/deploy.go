package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/joescharf/courseforge/internal/build"
	"github.com/joescharf/courseforge/internal/config"
	"github.com/joescharf/courseforge/internal/inventory"
	"github.com/joescharf/courseforge/internal/localexec"
	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/output"
	"github.com/joescharf/courseforge/internal/pipeline"
	"github.com/joescharf/courseforge/internal/remote"
	"github.com/joescharf/courseforge/internal/runlock"
)

var (
	deployTarget  string
	deployMachine string
)

// Replaceable in tests.
var (
	openSession = func(c *config.Config) pipeline.Opener {
		return pipeline.OpenRemote(remote.Options{
			Timeout:        c.SSH.Timeout,
			Charset:        c.SSH.Charset,
			KnownHostsFile: c.SSH.KnownHosts,
		})
	}
	newLocalBuilder = func(c *config.Config, logf func(string, ...any)) pipeline.LocalBuilder {
		return &build.Local{
			Runner:  localexec.NewRunner(verboseWriter(), ui.ErrOut),
			Fs:      afero.NewOsFs(),
			Root:    c.Deploy.LocalRoot,
			Env:     c.Local.CondaEnv,
			Shell:   c.Local.Shell,
			ShellRC: c.Local.ShellRC,
			App:     appFromConfig(c),
			Logf:    logf,
		}
	}
	stdin io.Reader = os.Stdin
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Interactive build menu for Windows and macOS packages",
	Long: `Choose a build type and a machine, run the pipeline, then decide whether
to build again. Ctrl-C cancels the running pipeline and leaves the menu.

Windows builds run these stages on the selected machine:
  clean, sync, dependencies, environment, build, verify-artifact
A failed stage stops the run; nothing is rolled back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return deployInteractiveRun(ctx)
	},
}

var deployRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline without menus",
	Example: `  cf deploy run --target windows --machine 1
  cf deploy run --target mac
  cf deploy run --target both --machine 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return deployOnceRun(ctx, models.Target(deployTarget), deployMachine)
	},
}

func init() {
	deployRunCmd.Flags().StringVarP(&deployTarget, "target", "t", string(models.TargetWindows), "Build target: windows, mac or both")
	deployRunCmd.Flags().StringVarP(&deployMachine, "machine", "m", "", "Machine id from the registry (required for windows and both)")
	deployCmd.AddCommand(deployRunCmd)
	rootCmd.AddCommand(deployCmd)
}

// prompter reads answers from a helper goroutine so a pending prompt can be cancelled.
type prompter struct {
	out   io.Writer
	lines <-chan string
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return &prompter{out: out, lines: ch}
}

// ask prints prompt and waits for one line. It returns io.EOF when input ends.
func (p *prompter) ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

var targetChoices = map[string]models.Target{
	"1": models.TargetWindows,
	"2": models.TargetMac,
	"3": models.TargetBoth,
}

// selectTarget shows the build type menu. It returns "" when the user picks exit.
func selectTarget(ctx context.Context, p *prompter) (models.Target, error) {
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, output.Cyan("------ Build type ------"))
	fmt.Fprintln(ui.Out, "1. Windows only")
	fmt.Fprintln(ui.Out, "2. macOS only")
	fmt.Fprintln(ui.Out, "3. Windows and macOS")
	fmt.Fprintln(ui.Out, "0. Exit")
	for {
		choice, err := p.ask(ctx, "\nSelect build type (0/1/2/3): ")
		if err != nil {
			return "", err
		}
		if choice == "0" {
			return "", nil
		}
		if t, ok := targetChoices[choice]; ok {
			return t, nil
		}
		ui.Warning("Invalid choice, try again")
	}
}

// selectMachine shows the registry menu and loops until a known id is entered.
func selectMachine(ctx context.Context, p *prompter, c *config.Config) (*models.Machine, error) {
	ids := c.MachineIDs()
	if len(ids) == 0 {
		return nil, errors.New("no machines configured (add them under 'machines' in config.yaml)")
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, output.Cyan("------ Build machine ------"))
	for _, m := range c.MachineList() {
		fmt.Fprintf(ui.Out, "%s. %s (%s)\n", m.ID, m.Name, m.Host)
	}
	prompt := fmt.Sprintf("\nSelect machine (%s): ", strings.Join(ids, "/"))
	for {
		choice, err := p.ask(ctx, prompt)
		if err != nil {
			return nil, err
		}
		if m, err := c.Machine(choice); err == nil {
			ui.Info("Selected %s", m.Name)
			return m, nil
		}
		ui.Warning("Invalid choice, try again")
	}
}

func deployInteractiveRun(ctx context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	p := newPrompter(stdin, ui.Out)

	for {
		target, err := selectTarget(ctx, p)
		if err != nil {
			return endInteractive(err)
		}
		if target == "" {
			ui.Info("Exiting")
			return nil
		}

		var m *models.Machine
		if target.Remote() {
			if m, err = selectMachine(ctx, p, c); err != nil {
				return endInteractive(err)
			}
		}

		if err := runPipeline(ctx, c, p, m, target); err != nil {
			ui.Error("%v", err)
		}
		if ctx.Err() != nil {
			return endInteractive(ctx.Err())
		}

		again, err := p.ask(ctx, "\nBuild again? (y/n): ")
		if err != nil {
			return endInteractive(err)
		}
		if !strings.EqualFold(again, "y") {
			ui.Info("Exiting")
			return nil
		}
	}
}

// endInteractive turns an interrupt or closed stdin into a clean exit.
func endInteractive(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		ui.Info("Cancelled")
		return nil
	}
	return err
}

func deployOnceRun(ctx context.Context, target models.Target, machineID string) error {
	if !target.Valid() {
		return fmt.Errorf("unknown target %q (want windows, mac or both)", target)
	}
	c, err := loadConfig()
	if err != nil {
		return err
	}
	var m *models.Machine
	if target.Remote() {
		if machineID == "" {
			return fmt.Errorf("--machine is required for target %s", target)
		}
		if m, err = c.Machine(machineID); err != nil {
			return err
		}
	}
	return runPipeline(ctx, c, nil, m, target)
}

// runPipeline runs one pipeline under the workstation run lock and prints the outcome.
// A failed stage is reported, not returned. p may be nil; stdin is then read only
// when stage confirmation is enabled.
func runPipeline(ctx context.Context, c *config.Config, p *prompter, m *models.Machine, target models.Target) error {
	if dryRun {
		printPlan(c, m, target)
		return nil
	}

	lock := runlock.New(c.Deploy.LockPath)
	if err := lock.TryAcquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			ui.VerboseLog("release run lock: %v", err)
		}
	}()

	ctrl, err := newController(c, p)
	if err != nil {
		return err
	}
	run, err := ctrl.Run(ctx, m, target)
	if err != nil {
		return err
	}
	printRunSummary(run)
	return nil
}

func newController(c *config.Config, p *prompter) (*pipeline.Controller, error) {
	rules, err := inventory.NewRules(c.Deploy.Excludes)
	if err != nil {
		return nil, err
	}

	cfg := pipeline.Config{
		Fs:           afero.NewOsFs(),
		LocalRoot:    c.Deploy.LocalRoot,
		Rules:        rules,
		Required:     c.Deploy.Required,
		Mirror:       c.Deploy.Mirror,
		PythonPrefix: c.Deploy.PythonPrefix,
		App:          appFromConfig(c),
		Local:        newLocalBuilder(c, ui.Logf),
		Progress:     printStageProgress,
		Logf:         ui.Logf,
	}
	if c.Deploy.ConfirmStages {
		if p == nil {
			p = newPrompter(stdin, ui.Out)
		}
		cfg.Confirm = func(ctx context.Context, stage models.Stage) error {
			answer, err := p.ask(ctx, fmt.Sprintf("%s finished, continue? (y/n): ", stage))
			if err != nil {
				return err
			}
			if !strings.EqualFold(answer, "y") {
				return errors.New("declined")
			}
			return nil
		}
	}
	if s, err := getStore(); err == nil {
		cfg.Recorder = s
	} else {
		ui.Warning("Run history disabled: %v", err)
	}

	return pipeline.New(openSession(c), cfg), nil
}

func appFromConfig(c *config.Config) build.App {
	return build.App{
		Name:           c.App.Name,
		EntryPoint:     c.App.EntryPoint,
		WinIcon:        c.App.WinIcon,
		MacIcon:        c.App.MacIcon,
		BundleID:       c.App.BundleID,
		ExcludeModules: c.App.ExcludeModules,
	}.WithDefaults()
}

// verboseWriter echoes local build output only in verbose mode.
func verboseWriter() io.Writer {
	if verbose {
		return ui.Out
	}
	return io.Discard
}

func printStageProgress(stage models.Stage, res *models.StageResult) {
	switch {
	case res == nil:
		fmt.Fprintf(ui.Out, "\n%s\n", output.Cyan("------ "+string(stage)+" ------"))
	case res.OK:
		ui.Success("%s done (%s)", stage, res.Duration.Round(time.Millisecond))
	default:
		ui.Error("%s failed: %s", stage, res.Message)
	}
}

func printRunSummary(run *models.Run) {
	fmt.Fprintln(ui.Out)
	switch run.Status {
	case models.RunStatusSucceeded:
		ui.Success("%s build finished", run.Target)
	case models.RunStatusCancelled:
		ui.Warning("%s build cancelled", run.Target)
	default:
		if run.FailedStage != "" {
			ui.Error("%s build failed at %s: %s", run.Target, run.FailedStage, run.Message)
		} else {
			ui.Error("%s build stopped: %s", run.Target, run.Message)
		}
	}
	if run.ID != "" {
		ui.VerboseLog("run %s recorded", run.ID)
	}
}

func printPlan(c *config.Config, m *models.Machine, target models.Target) {
	if m != nil {
		ui.DryRunMsg("Would connect to %s (%s) as %s", m.Name, m.Address(), m.Username)
		for _, st := range models.RemoteStages {
			ui.DryRunMsg("  %s", st)
		}
	}
	if target.Local() {
		ui.DryRunMsg("Would package %s.app in %s", appFromConfig(c).Name, c.Deploy.LocalRoot)
	}
}
