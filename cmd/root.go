package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/svclift/svclift/internal/wizard"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "svclift",
	Short: "Deploy a long-running application as a managed systemd service",
	Long: `svclift lifts an application out of its git checkout and runs it as a
restartable systemd service: test it in the foreground, install it under
/opt, upgrade it in step with the remote repository, and remove it again.

Run without arguments for the interactive menu.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.RunE = runMenu
	cobra.OnInitialize(initSettings)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "settings", "c", "", "settings file (default: svclift.yml)")
}

// initSettings loads the orchestrator's own settings (paths, branch policy),
// not the deployment config, which lives in svclift.conf.
func initSettings() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("svclift")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("config", "svclift.conf")
	viper.SetDefault("secrets", ".env")
	viper.SetDefault("defaults_template", "svclift.defaults")
	viper.SetDefault("secrets_template", "secrets.template")
	viper.SetDefault("forbidden_ports", "")
	viper.SetDefault("unit_dir", "/etc/systemd/system")
	viper.SetDefault("lock_dir", "/run")
	viper.SetDefault("default_branch", "main")
	viper.SetDefault("branch_mode", "default")

	viper.SetEnvPrefix("svclift")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading settings: %v\n", err)
		}
	}
}

// runMenu dispatches the interactive numbered menu to the matching command.
func runMenu(cmd *cobra.Command, args []string) error {
	op, err := wizard.Menu()
	if err != nil {
		return exitClean(err)
	}
	for _, sub := range rootCmd.Commands() {
		if sub.Name() == op {
			return sub.RunE(sub, nil)
		}
	}
	return fmt.Errorf("unknown operation %q", op)
}
