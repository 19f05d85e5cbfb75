package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svclift/svclift/internal/orchestrator"
	"github.com/svclift/svclift/internal/ui"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Deploy the application as a systemd service",
	Long: `Synchronize the source tree, provision the install directory and its
dependency environment, write the unit definition, then enable and start
the service. Requires root.`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	if err := orchestrator.CheckPrivilege(); err != nil {
		return fail("Install failed", err, hintFor(err))
	}
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	if err := a.ensureConfigured(false); err != nil {
		return exitClean(err)
	}
	revision, err := a.selectRevision()
	if err != nil {
		return exitClean(err)
	}

	fmt.Println(ui.Bold("Installing " + a.cfg.Name + "..."))
	if err := a.orch.Install(revision); err != nil {
		a.printWarnings()
		return fail("Install failed", err, hintFor(err))
	}
	a.printWarnings()
	ui.Success(fmt.Sprintf("Installed %s (unit %s.service)", a.cfg.Name, a.cfg.Name))
	fmt.Println(ui.Hint("next: svclift status"))
	return nil
}

// hintFor maps the structural errors to operator guidance.
func hintFor(err error) string {
	var missing *orchestrator.MissingToolsError
	switch {
	case errors.Is(err, orchestrator.ErrPrivilege):
		return "re-run with sudo"
	case errors.Is(err, orchestrator.ErrLocked):
		return "wait for the other svclift run to finish"
	case errors.Is(err, orchestrator.ErrIncompleteConfig):
		return "complete the configuration prompts first"
	case errors.As(err, &missing):
		return "install the listed tools and re-run"
	}
	return ""
}
