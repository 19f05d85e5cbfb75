package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var followLogs bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervisor's view of the service",
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the service journal",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "follow the journal")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	if a.cfg.Name == "" {
		return fail("No service configured", fmt.Errorf("no configuration found"), "run 'svclift install' first")
	}
	return a.orch.Status()
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	if a.cfg.Name == "" {
		return fail("No service configured", fmt.Errorf("no configuration found"), "run 'svclift install' first")
	}
	return a.orch.Logs(followLogs)
}
