package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/output"
	"github.com/joescharf/courseforge/internal/store"
)

var (
	historyMachine string
	historyStatus  string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent deploy runs, or the stages of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return historyShowRun(cmd, args[0])
		}
		return historyListRun(cmd)
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyMachine, "machine", "m", "", "Filter by machine id")
	historyCmd.Flags().StringVarP(&historyStatus, "status", "s", "", "Filter by status (running, succeeded, failed, cancelled)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of runs")
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(cmd.Context(), store.RunListFilter{
		MachineID: historyMachine,
		Status:    models.RunStatus(historyStatus),
		Limit:     historyLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded yet. Use 'cf deploy' to start one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Target", "Machine", "Status", "Failed Stage", "Duration"})
	for _, r := range runs {
		machine := r.MachineName
		if machine == "" {
			machine = "-"
		}
		_ = table.Append([]string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			string(r.Target),
			machine,
			output.StatusColor(string(r.Status)),
			string(r.FailedStage),
			runDuration(r),
		})
	}
	_ = table.Render()
	return nil
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	r, err := s.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Run:      %s\n", r.ID)
	fmt.Fprintf(ui.Out, "Target:   %s\n", r.Target)
	if r.MachineName != "" {
		fmt.Fprintf(ui.Out, "Machine:  %s (%s)\n", r.MachineName, r.Host)
	}
	fmt.Fprintf(ui.Out, "Status:   %s\n", output.StatusColor(string(r.Status)))
	fmt.Fprintf(ui.Out, "Started:  %s\n", r.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(ui.Out, "Duration: %s\n", runDuration(r))
	if r.Message != "" {
		fmt.Fprintf(ui.Out, "Message:  %s\n", r.Message)
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"", "Stage", "Duration", "Message"})
	for _, st := range r.Stages {
		_ = table.Append([]string{
			output.StageMark(st.OK),
			string(st.Stage),
			st.Duration.Round(time.Millisecond).String(),
			st.Message,
		})
	}
	_ = table.Render()
	return nil
}

func runDuration(r *models.Run) string {
	if r.EndedAt == nil {
		return "-"
	}
	return r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
}
