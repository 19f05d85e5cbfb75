package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svclift/svclift/internal/orchestrator"
	"github.com/svclift/svclift/internal/ui"
	"github.com/svclift/svclift/internal/wizard"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the service",
	Long: `Stop and disable the service and delete its unit definition. The install
directory (and the secrets it contains) is only removed when you confirm
it explicitly. Requires root.`,
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if err := orchestrator.CheckPrivilege(); err != nil {
		return fail("Uninstall failed", err, hintFor(err))
	}
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	if a.cfg.Name == "" {
		return fail("Nothing to uninstall", fmt.Errorf("no configuration found"), "")
	}

	removeDir, err := wizard.Confirm(
		fmt.Sprintf("Also delete %s?", a.cfg.InstallDir),
		"This removes the deployed code AND the secrets file. Backups in the directory are lost too.",
	)
	if err != nil {
		return exitClean(err)
	}

	if err := a.orch.Uninstall(removeDir); err != nil {
		a.printWarnings()
		return fail("Uninstall failed", err, hintFor(err))
	}
	a.printWarnings()
	if removeDir {
		ui.Success(fmt.Sprintf("Removed %s and %s", a.cfg.Name, a.cfg.InstallDir))
	} else {
		ui.Success(fmt.Sprintf("Removed %s (kept %s)", a.cfg.Name, a.cfg.InstallDir))
	}
	return nil
}
