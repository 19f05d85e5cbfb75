package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/svclift/svclift/internal/backup"
	"github.com/svclift/svclift/internal/config"
	"github.com/svclift/svclift/internal/gitsync"
	"github.com/svclift/svclift/internal/health"
	"github.com/svclift/svclift/internal/orchestrator"
	"github.com/svclift/svclift/internal/ports"
	"github.com/svclift/svclift/internal/secrets"
	"github.com/svclift/svclift/internal/selfupdate"
	"github.com/svclift/svclift/internal/sysd"
	"github.com/svclift/svclift/internal/ui"
	"github.com/svclift/svclift/internal/unit"
	"github.com/svclift/svclift/internal/wizard"
)

// app wires the components for one invocation.
type app struct {
	cfg      *config.ServiceConfig
	cfgStore *config.Store
	secrets  *secrets.Store
	orch     *orchestrator.Orchestrator
}

// loadApp loads (or initializes) the deployment config and builds the
// orchestrator around it. The returned app may carry an incomplete config;
// ensureConfigured forces the interactive flow before install/upgrade.
func loadApp() (*app, error) {
	sourceDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfgStore := &config.Store{Path: viper.GetString("config")}
	cfg, found, err := cfgStore.Load()
	if err != nil {
		return nil, err
	}
	if !found {
		cfg = &config.ServiceConfig{}
	}
	if err := config.Seed(cfg, viper.GetString("defaults_template")); err != nil {
		return nil, err
	}

	sec := &secrets.Store{Path: viper.GetString("secrets")}

	guard, err := selfupdate.New()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		cfgStore: cfgStore,
		secrets:  sec,
		orch: &orchestrator.Orchestrator{
			Config:    cfg,
			Secrets:   sec,
			Sync:      gitsync.NewSyncer(sourceDir, viper.GetString("default_branch")),
			Guard:     guard,
			Backup:    &backup.Policy{},
			Health:    health.NewPoller(),
			SourceDir: sourceDir,
			UnitDir:   viper.GetString("unit_dir"),
			Runner:    sysd.OSRunner{},
		},
	}
	a.wireName()
	return a, nil
}

// wireName finishes the parts that depend on the (possibly just entered)
// service name.
func (a *app) wireName() {
	if a.cfg.Name == "" {
		return
	}
	a.orch.Sysd = sysd.NewManager(unit.FileName(a.cfg.Name))
	a.orch.LockPath = filepath.Join(viper.GetString("lock_dir"), "svclift-"+a.cfg.Name+".lock")
}

// ensureConfigured forces the configuration flow when the config is
// incomplete (or the operator asked to edit), then re-validates the port
// and walks the secrets template. Ports are never trusted across runs.
func (a *app) ensureConfigured(edit bool) error {
	entered := edit || !a.cfg.Complete()
	if entered {
		if err := wizard.ConfigFlow(a.cfg, a.cfgStore, edit); err != nil {
			return err
		}
		a.wireName()
	}

	_, hasPort := a.secrets.Port()
	if entered || !hasPort {
		// stop the service first so the live-usage check is not confused
		// by our own prior binding
		if a.orch.Sysd != nil && a.orch.Sysd.IsActive() {
			if err := a.orch.Sysd.Stop(); err != nil {
				ui.Warn(fmt.Sprintf("could not stop service before port validation: %v", err))
			}
		}
		catalog, err := ports.LoadCatalog(viper.GetString("forbidden_ports"))
		if err != nil {
			return err
		}
		def := ""
		if p, ok := a.secrets.Port(); ok {
			def = fmt.Sprintf("%d", p)
		} else if t := secrets.TemplateDefault(viper.GetString("secrets_template"), secrets.PortKey); t != "" {
			def = t
		}
		if _, err := wizard.PortFlow(ports.NewAllocator(catalog), a.secrets, def); err != nil {
			return err
		}
	}

	if entered {
		if err := wizard.SecretsFlow(a.secrets, viper.GetString("secrets_template")); err != nil {
			return err
		}
	}
	return nil
}

// selectRevision resolves which branch to deploy according to the
// configured branch mode.
func (a *app) selectRevision() (string, error) {
	switch viper.GetString("branch_mode") {
	case "newest-local":
		return a.orch.Sync.NewestLocal(), nil
	case "ask-remote":
		branches, err := a.orch.Sync.RemoteBranches()
		if err != nil {
			return "", err
		}
		return wizard.BranchFlow(branches)
	default:
		return a.orch.Sync.DefaultBranch, nil
	}
}

// printWarnings reports the non-fatal problems of the last transition.
func (a *app) printWarnings() {
	for _, w := range a.orch.Warnings {
		ui.Warn(w)
	}
}

// exitClean folds the operator's exit sentinel into a silent success.
func exitClean(err error) error {
	if errors.Is(err, wizard.ErrExit) {
		fmt.Println("Bye.")
		return nil
	}
	return err
}

// fail prints a labeled fatal error and passes it to cobra for a non-zero
// exit.
func fail(title string, err error, hint string) error {
	fmt.Fprint(os.Stderr, ui.FormatError(title, err.Error(), hint))
	return err
}
