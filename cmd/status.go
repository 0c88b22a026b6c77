package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/output"
	"github.com/joescharf/courseforge/internal/runlock"
	"github.com/joescharf/courseforge/internal/store"
)

var statusFailed bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show build machine status dashboard",
	Long: `Show the most recent run on every registered machine and whether a
deploy is currently running on this workstation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusOverviewRun(cmd)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusFailed, "failed", false, "Show only machines whose last run did not succeed")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(cmd *cobra.Command) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if pid, running := runlock.New(c.Deploy.LockPath).Holder(); running {
		ui.Warning("A deploy is running (pid %d)", pid)
	} else {
		ui.Info("No deploy running")
	}
	fmt.Fprintln(ui.Out)

	machines := c.MachineList()
	if len(machines) == 0 {
		ui.Info("No machines configured. Use 'cf config init' to get started.")
		return nil
	}

	table := ui.Table([]string{"Machine", "Address", "Last Run", "Target", "Status", "Failed Stage", "Activity"})
	for _, m := range machines {
		runs, err := s.ListRuns(ctx, store.RunListFilter{MachineID: m.ID, Limit: 1})
		if err != nil {
			return err
		}
		var last *models.Run
		if len(runs) > 0 {
			last = runs[0]
		}
		if statusFailed && last != nil && last.Status == models.RunStatusSucceeded {
			continue
		}

		row := []string{output.Cyan(m.Name), m.Address(), "-", "-", "-", "-", "n/a"}
		if last != nil {
			row[2] = last.ID
			row[3] = string(last.Target)
			row[4] = output.StatusColor(string(last.Status))
			row[5] = string(last.FailedStage)
			row[6] = timeAgo(last.StartedAt)
		}
		_ = table.Append(row)
	}
	_ = table.Render()
	return nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
