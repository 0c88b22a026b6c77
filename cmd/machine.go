package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/courseforge/internal/output"
)

var machineCmd = &cobra.Command{
	Use:     "machine",
	Aliases: []string{"machines"},
	Short:   "Inspect the build machine registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return machineListRun()
	},
}

var machineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered Windows build machines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return machineListRun()
	},
}

func init() {
	machineCmd.AddCommand(machineListCmd)
	rootCmd.AddCommand(machineCmd)
}

func machineListRun() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	machines := c.MachineList()
	if len(machines) == 0 {
		ui.Info("No machines configured. Add them under 'machines' in config.yaml ('cf config init').")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Address", "User", "Remote Root", "Conda Env", "Auth"})
	for _, m := range machines {
		auth := "password"
		if m.PasswordEnv != "" {
			auth = "$" + m.PasswordEnv
		}
		_ = table.Append([]string{
			m.ID,
			output.Cyan(m.Name),
			m.Address(),
			m.Username,
			m.RemoteRoot,
			m.CondaEnv,
			auth,
		})
	}
	_ = table.Render()
	ui.VerboseLog("%d machines", len(machines))
	return nil
}
