package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svclift/svclift/internal/ui"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the entry point in the foreground with secrets loaded",
	Long: `Build an ephemeral dependency environment, export the stored secrets into
the process environment and run the entry point in the foreground.
Terminate with Ctrl-C, then clean up with 'svclift cleanup-test'.`,
	RunE: runTest,
}

var cleanupTestCmd = &cobra.Command{
	Use:   "cleanup-test",
	Short: "Remove the test environment and the plaintext secrets file",
	RunE:  runCleanupTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(cleanupTestCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	if err := a.ensureConfigured(false); err != nil {
		return exitClean(err)
	}

	fmt.Println(ui.Bold("Running " + a.cfg.EntryPoint + " in the foreground (Ctrl-C to stop)..."))
	if err := a.orch.Test(); err != nil {
		return fail("Test run failed", err, "inspect the output above")
	}
	return nil
}

func runCleanupTest(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return fail("Failed to initialize", err, "")
	}
	if a.cfg.Name == "" {
		return fail("Nothing to clean up", fmt.Errorf("no configuration found"), "")
	}
	if err := a.orch.CleanupTest(); err != nil {
		return fail("Cleanup failed", err, "")
	}
	a.printWarnings()
	ui.Success("Test environment and secrets file removed")
	return nil
}
