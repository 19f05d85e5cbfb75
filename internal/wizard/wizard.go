// Package wizard drives the interactive flows: configuration entry, port
// selection and secrets discovery. Every free-text prompt accepts the
// literal "exit" sentinel to end the run cleanly.
package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/svclift/svclift/internal/config"
	"github.com/svclift/svclift/internal/ports"
	"github.com/svclift/svclift/internal/secrets"
	"github.com/svclift/svclift/internal/ui"
)

// ErrExit is returned when the operator types the exit sentinel or aborts
// a form. Callers terminate the run cleanly without further cleanup.
var ErrExit = errors.New("exit requested")

const exitSentinel = "exit"

func sentinel(value string) bool {
	return strings.TrimSpace(strings.ToLower(value)) == exitSentinel
}

func mapAbort(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrExit
	}
	return err
}

// ConfigFlow prompts for every non-seeded field of cfg and persists the
// result. With edit set, seeded markers are cleared first so every field
// becomes re-promptable.
func ConfigFlow(cfg *config.ServiceConfig, store *config.Store, edit bool) error {
	if edit {
		cfg.ClearSeeded()
	}

	var groups []*huh.Group
	var backupRaw = strings.Join(cfg.BackupFiles, " ")

	if !cfg.Seeded(config.KeyName) {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Service name").
				Description("Used as the systemd unit name.").
				Validate(validateOrExit(config.ValidateName)).
				Value(&cfg.Name),
		))
	}
	if !cfg.Seeded(config.KeyDesc) {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Description (optional)").
				Value(&cfg.Description),
		))
	}
	if !cfg.Seeded(config.KeyEntryPoint) {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Entry point").
				Description("Main script relative to the deployment tree, e.g. main.py").
				Placeholder("main.py").
				Validate(validateOrExit(requireValue("MAIN_SCRIPT"))).
				Value(&cfg.EntryPoint),
		))
	}
	if !cfg.Seeded(config.KeyUser) {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Run-as user").
				Description("Existing host account the service runs under.").
				Validate(validateOrExit(config.ValidateUser)).
				Value(&cfg.RunAsUser),
		))
	}
	if !cfg.Seeded(config.KeyBackupFiles) {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Files to back up before upgrades (optional)").
				Description("Space-separated names relative to the install directory.").
				Placeholder("state.json data.db").
				Value(&backupRaw),
		))
	}
	if !cfg.Seeded(config.KeyForceReset) {
		groups = append(groups, huh.NewGroup(
			huh.NewConfirm().
				Title("Appliance mode?").
				Description("Upgrades discard local modifications in favor of the remote revision.").
				Value(&cfg.ForceReset),
		))
	}
	if !cfg.Seeded(config.KeyHealthURL) {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Healthcheck URL (optional)").
				Description("Polled after every (re)start to confirm the service is serving.").
				Placeholder("http://127.0.0.1:5001/health").
				Value(&cfg.HealthcheckURL),
		))
	}

	if len(groups) > 0 {
		if err := huh.NewForm(groups...).Run(); err != nil {
			return mapAbort(err)
		}
	}

	for _, field := range []string{cfg.Name, cfg.Description, cfg.EntryPoint, cfg.RunAsUser, cfg.HealthcheckURL, backupRaw} {
		if sentinel(field) {
			return ErrExit
		}
	}
	cfg.BackupFiles = strings.Fields(backupRaw)

	if !cfg.Seeded(config.KeyInstallDir) {
		installDir := cfg.InstallDir
		if installDir == "" {
			installDir = cfg.DefaultInstallDir()
		}
		dirForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Install directory").
				Description("Absolute path; default is /opt/<name>.").
				Validate(validateOrExit(requireAbsolute)).
				Value(&installDir),
		))
		if err := dirForm.Run(); err != nil {
			return mapAbort(err)
		}
		if sentinel(installDir) {
			return ErrExit
		}
		cfg.InstallDir = installDir
	}

	if err := store.Save(cfg); err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Saved configuration to %s", store.Path))
	return nil
}

// PortFlow loops until the operator supplies a port that passes all four
// validation checks, re-prompting with the labeled rejection each time. The
// accepted port is persisted as the PORT secret. A different value is never
// substituted for the operator's input.
func PortFlow(alloc *ports.Allocator, store *secrets.Store, defaultValue string) (int, error) {
	candidate := defaultValue
	for {
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Service port").
				Description("Between 1024 and 65535. Type 'exit' to quit.").
				Value(&candidate),
		))
		if err := form.Run(); err != nil {
			return 0, mapAbort(err)
		}
		if sentinel(candidate) {
			return 0, ErrExit
		}
		port, err := alloc.Validate(candidate)
		var rej *ports.RejectionError
		if errors.As(err, &rej) {
			ui.ValidationErr(secrets.PortKey, rej.Message, suggestionWithSentinel(rej.Suggestion))
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := store.SetPort(port); err != nil {
			return 0, err
		}
		return port, nil
	}
}

// SecretsFlow walks the template's required keys: present keys show a
// masked indicator so the operator knows what exists without revealing
// contents, and only keys the operator opts to review are prompted.
// Entered values are persisted one key at a time.
func SecretsFlow(store *secrets.Store, templatePath string) error {
	keys, err := secrets.TemplateKeys(templatePath)
	if err != nil {
		return err
	}
	var options []huh.Option[string]
	for _, key := range keys {
		if key == secrets.PortKey {
			// the port has its own validated flow
			continue
		}
		if _, ok := store.Get(key); ok {
			ui.Masked(key)
			options = append(options, huh.NewOption(key+" (set)", key))
		} else {
			options = append(options, huh.NewOption(key+" (missing)", key).Selected(true))
		}
	}
	if len(options) == 0 {
		return nil
	}

	var review []string
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Which secrets do you want to enter or update?").
			Options(options...).
			Value(&review),
	))
	if err := form.Run(); err != nil {
		return mapAbort(err)
	}

	for _, key := range review {
		var value string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title(key).
				EchoMode(huh.EchoModePassword).
				Value(&value),
		))
		if err := form.Run(); err != nil {
			return mapAbort(err)
		}
		if sentinel(value) {
			return ErrExit
		}
		if err := store.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(title, description string) (bool, error) {
	var answer bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Value(&answer),
	))
	if err := form.Run(); err != nil {
		return false, mapAbort(err)
	}
	return answer, nil
}

// BranchFlow lets the operator type a branch name after seeing what the
// remote offers.
func BranchFlow(branches []string) (string, error) {
	if len(branches) > 0 {
		fmt.Println(ui.Bold("Remote branches:"))
		for _, b := range branches {
			fmt.Println("  " + b)
		}
	}
	var branch string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Branch to deploy").
			Validate(validateOrExit(requireValue("branch"))).
			Value(&branch),
	))
	if err := form.Run(); err != nil {
		return "", mapAbort(err)
	}
	if sentinel(branch) {
		return "", ErrExit
	}
	return branch, nil
}

// Menu shows the numbered operation menu and returns the chosen operation.
func Menu() (string, error) {
	var op string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("svclift - what do you want to do?").
			Options(
				huh.NewOption("1. test - run the entry point in the foreground", "test"),
				huh.NewOption("2. cleanup-test - remove test environment and secrets", "cleanup-test"),
				huh.NewOption("3. install - deploy as a systemd service", "install"),
				huh.NewOption("4. upgrade - sync source and redeploy", "upgrade"),
				huh.NewOption("5. uninstall - remove the service", "uninstall"),
				huh.NewOption("6. status - show the service state", "status"),
				huh.NewOption("7. logs - show the service journal", "logs"),
			).
			Value(&op),
	))
	if err := form.Run(); err != nil {
		return "", mapAbort(err)
	}
	return op, nil
}

// validateOrExit lets the sentinel pass through a huh validator so the
// outer flow can translate it into a clean exit.
func validateOrExit(validate func(string) error) func(string) error {
	return func(value string) error {
		if sentinel(value) {
			return nil
		}
		return validate(value)
	}
}

func requireValue(field string) func(string) error {
	return func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func requireAbsolute(value string) error {
	if !strings.HasPrefix(value, "/") {
		return errors.New("must be an absolute path")
	}
	return nil
}

func suggestionWithSentinel(suggestion string) string {
	if suggestion != "" {
		return suggestion + " (or type 'exit' to quit)"
	}
	return "type 'exit' to quit"
}
