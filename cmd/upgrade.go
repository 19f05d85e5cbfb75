package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svclift/svclift/internal/orchestrator"
	"github.com/svclift/svclift/internal/ui"
)

var upgradeEdit bool

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Sync the source tree and redeploy the service",
	Long: `Stop the service, back up configured state files, synchronize with the
remote repository, redeploy and restart. If the sync updates svclift
itself, the run transparently re-executes so the new logic applies within
this same invocation. Requires root.`,
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeEdit, "edit", false, "re-enter the configuration before upgrading")
	rootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	if err := orchestrator.CheckPrivilege(); err != nil {
		return fail("Upgrade failed", err, hintFor(err))
	}
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	// a resumed pass must not re-prompt; its answers were persisted before
	// the handoff, and the already-synced revision is not consulted again
	var revision string
	if !a.orch.Guard.Resuming() {
		if err := a.ensureConfigured(upgradeEdit); err != nil {
			return exitClean(err)
		}
		revision, err = a.selectRevision()
		if err != nil {
			return exitClean(err)
		}
	}

	fmt.Println(ui.Bold("Upgrading " + a.cfg.Name + "..."))
	if err := a.orch.Upgrade(revision); err != nil {
		a.printWarnings()
		return fail("Upgrade failed", err, hintFor(err))
	}
	a.printWarnings()
	ui.Success(fmt.Sprintf("Upgraded %s", a.cfg.Name))
	return nil
}
