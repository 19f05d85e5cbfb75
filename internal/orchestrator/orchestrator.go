// Package orchestrator is the lifecycle state machine. It composes the
// config, secrets, port, sync, backup, unit and health components into the
// test/install/upgrade/uninstall/status/logs operations and owns their
// ordering, privilege pre-flight and failure policy.
package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/svclift/svclift/internal/backup"
	"github.com/svclift/svclift/internal/config"
	"github.com/svclift/svclift/internal/gitsync"
	"github.com/svclift/svclift/internal/health"
	"github.com/svclift/svclift/internal/secrets"
	"github.com/svclift/svclift/internal/selfupdate"
	"github.com/svclift/svclift/internal/sysd"
	"github.com/svclift/svclift/internal/ui"
	"github.com/svclift/svclift/internal/unit"
)

// ErrPrivilege marks a transition invoked without elevated privileges.
// It fires before any side effect.
var ErrPrivilege = errors.New("this operation requires root privileges")

// ErrIncompleteConfig marks an install/upgrade attempted before the
// configuration flow produced a complete config.
var ErrIncompleteConfig = errors.New("configuration is incomplete")

// ErrLocked marks a mutating transition while another invocation holds the
// installation lock.
var ErrLocked = errors.New("another invocation is already operating on this installation")

// MissingToolsError enumerates every absent host tool, not just the first.
type MissingToolsError struct {
	Tools []string
}

func (e *MissingToolsError) Error() string {
	return "missing required tools: " + strings.Join(e.Tools, ", ")
}

// requirementsFile is the deployed application's dependency manifest.
const requirementsFile = "requirements.txt"

// testVenvDir is the ephemeral environment used by the test transition.
const testVenvDir = ".venv-test"

// swappable in tests
var (
	geteuid  = os.Geteuid
	lookPath = exec.LookPath
)

// Orchestrator drives one deployment through its lifecycle.
type Orchestrator struct {
	Config  *config.ServiceConfig
	Secrets *secrets.Store
	Sync    *gitsync.Syncer
	Guard   *selfupdate.Guard
	Backup  *backup.Policy
	Health  *health.Poller
	Sysd    *sysd.Manager

	// SourceDir is the working tree svclift runs from: the git checkout
	// holding the entry point, the dependency manifest and the config and
	// secrets files.
	SourceDir string
	// UnitDir is where rendered unit definitions land.
	UnitDir string
	// LockPath guards mutating transitions against concurrent invocations.
	LockPath string

	// Runner executes host tools other than git and systemctl
	// (python3, pip, pkill).
	Runner sysd.Runner

	// Warnings collects non-fatal problems from the last transition.
	Warnings []string
}

func (o *Orchestrator) warnf(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// CheckPrivilege verifies the invocation is privileged. Command paths call
// it before any prompt or write so a non-root run fails without touching
// config, secrets or the service.
func CheckPrivilege() error {
	if geteuid() != 0 {
		return ErrPrivilege
	}
	return nil
}

func (o *Orchestrator) requirePrivilege() error {
	return CheckPrivilege()
}

// CheckTools verifies every named host tool is present, collecting all
// misses into one error so the operator fixes them in a single pass.
func CheckTools(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := lookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingToolsError{Tools: missing}
	}
	return nil
}

// lock takes the exclusive installation lock for a mutating transition.
// The returned release func is a no-op error sink when locking is disabled.
func (o *Orchestrator) lock() (func(), error) {
	if o.LockPath == "" {
		return func() {}, nil
	}
	fl := flock.New(o.LockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", o.LockPath, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = fl.Unlock() }, nil
}

// Install moves Uninstalled -> Installed: sync the source, provision the
// install directory and its dependency environment, render and enable the
// unit, start it and verify health.
func (o *Orchestrator) Install(revision string) error {
	o.Warnings = nil
	if err := o.requirePrivilege(); err != nil {
		return err
	}
	if err := CheckTools("git", "systemctl", "python3"); err != nil {
		return err
	}
	if !o.Config.Complete() {
		return ErrIncompleteConfig
	}
	release, err := o.lock()
	if err != nil {
		return err
	}
	defer release()

	ui.StepStarted("syncing source")
	if err := o.Sync.Sync(revision, o.Config.ForceReset); err != nil {
		return fmt.Errorf("source sync: %w", err)
	}
	ui.StepDone("source synced", revision)

	ui.StepStarted("deploying to " + o.Config.InstallDir)
	if err := o.deploy(); err != nil {
		return err
	}
	if err := o.installDependencies(filepath.Join(o.Config.InstallDir, unit.VenvDir)); err != nil {
		return err
	}
	ui.StepDone("deployed", "")

	if err := o.writeUnit(); err != nil {
		return err
	}
	ui.StepStarted("starting " + o.Sysd.Unit)
	if err := o.Sysd.Enable(); err != nil {
		return fmt.Errorf("enabling service: %w", err)
	}
	if err := o.Sysd.Start(); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	ui.StepDone("started", o.Sysd.Unit)
	o.checkHealth()
	return nil
}

// Upgrade moves Installed -> Installed through the transient Upgrading
// state: stop, back up, sync (guarded against self-update), redeploy,
// refresh dependencies, restart, verify health. When the guard detects the
// orchestrator's own logic changed, execution hands off to the new image
// and the resumed pass skips the steps that already ran.
func (o *Orchestrator) Upgrade(revision string) error {
	o.Warnings = nil
	if err := o.requirePrivilege(); err != nil {
		return err
	}
	if err := CheckTools("git", "systemctl", "python3"); err != nil {
		return err
	}
	if !o.Config.Complete() {
		return ErrIncompleteConfig
	}
	release, err := o.lock()
	if err != nil {
		return err
	}
	defer release()

	if o.Guard.Resuming() {
		ui.StepSkipped("stop, backup and sync (done before re-exec)")
	} else {
		ui.StepStarted("stopping " + o.Sysd.Unit)
		if err := o.Sysd.Stop(); err != nil {
			return fmt.Errorf("stopping service: %w", err)
		}
		ui.StepDone("stopped", o.Sysd.Unit)

		artifacts, warnings, err := o.Backup.Run(o.Config.InstallDir, o.Config.BackupFiles, o.Config.RunAsUser)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		for _, w := range warnings {
			o.warnf("backup %s: %s", w.File, w.Message)
		}
		for _, a := range artifacts {
			ui.Success("  backed up " + a.Source + " -> " + a.Path)
		}

		before, err := o.Guard.Fingerprint()
		if err != nil {
			return err
		}
		ui.StepStarted("syncing source")
		if err := o.Sync.Sync(revision, o.Config.ForceReset); err != nil {
			return fmt.Errorf("source sync: %w", err)
		}
		ui.StepDone("source synced", revision)
		changed, err := o.Guard.Changed(before)
		if err != nil {
			return err
		}
		if changed {
			ui.Warn("svclift itself was updated; continuing with the new version")
			// the lock is released before the handoff; the resumed pass
			// re-acquires it
			release()
			return o.Guard.Reexec()
		}
	}

	ui.StepStarted("deploying to " + o.Config.InstallDir)
	if err := o.deploy(); err != nil {
		return err
	}
	if err := o.installDependencies(filepath.Join(o.Config.InstallDir, unit.VenvDir)); err != nil {
		return err
	}
	ui.StepDone("deployed", "")

	if err := o.writeUnit(); err != nil {
		return err
	}
	ui.StepStarted("restarting " + o.Sysd.Unit)
	if err := o.Sysd.Restart(); err != nil {
		return fmt.Errorf("restarting service: %w", err)
	}
	ui.StepDone("restarted", o.Sysd.Unit)
	o.checkHealth()
	return nil
}

// Uninstall moves Installed -> Removed. The install directory and the
// secrets file are deleted only when removeDir is set, which the command
// layer gates behind explicit operator confirmation.
func (o *Orchestrator) Uninstall(removeDir bool) error {
	o.Warnings = nil
	if err := o.requirePrivilege(); err != nil {
		return err
	}
	if err := CheckTools("systemctl"); err != nil {
		return err
	}
	release, err := o.lock()
	if err != nil {
		return err
	}
	defer release()

	if err := o.Sysd.Stop(); err != nil {
		o.warnf("stopping service: %v", err)
	}
	if err := o.Sysd.Disable(); err != nil {
		o.warnf("disabling service: %v", err)
	}
	unitPath := filepath.Join(o.UnitDir, unit.FileName(o.Config.Name))
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit: %w", err)
	}
	if err := o.Sysd.DaemonReload(); err != nil {
		o.warnf("daemon-reload: %v", err)
	}
	if removeDir {
		if err := os.RemoveAll(o.Config.InstallDir); err != nil {
			return fmt.Errorf("removing %s: %w", o.Config.InstallDir, err)
		}
		// the authoritative secrets store lives in the source tree, not
		// under the install dir; the operator confirmed its removal too
		if err := o.Secrets.Remove(); err != nil {
			return fmt.Errorf("removing secrets file: %w", err)
		}
	}
	return nil
}

// Test runs the entry point in the foreground inside an ephemeral
// dependency environment, with all secrets exported to the child process.
func (o *Orchestrator) Test() error {
	o.Warnings = nil
	if err := CheckTools("python3"); err != nil {
		return err
	}
	venv := filepath.Join(o.SourceDir, testVenvDir)
	if err := o.installDependencies(venv); err != nil {
		return err
	}
	env := os.Environ()
	values, err := o.Secrets.All()
	if err != nil {
		return err
	}
	for k, v := range values {
		env = append(env, k+"="+v)
	}
	python := filepath.Join(venv, "bin", "python")
	cmd := exec.Command(python, o.Config.EntryPoint)
	cmd.Dir = o.SourceDir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// CleanupTest terminates any process matching the entry point and removes
// the ephemeral environment and the plaintext secrets file.
func (o *Orchestrator) CleanupTest() error {
	o.Warnings = nil
	if _, err := lookPath("pkill"); err == nil {
		// pkill exits 1 when nothing matched; that is fine
		if _, err := o.Runner.Output("pkill", "-f", o.Config.EntryPoint); err != nil {
			o.warnf("no running test process matched %s", o.Config.EntryPoint)
		}
	}
	if err := os.RemoveAll(filepath.Join(o.SourceDir, testVenvDir)); err != nil {
		return fmt.Errorf("removing test environment: %w", err)
	}
	if err := o.Secrets.Remove(); err != nil {
		return fmt.Errorf("removing secrets file: %w", err)
	}
	return nil
}

// Status streams the supervisor's view of the service.
func (o *Orchestrator) Status() error {
	if err := CheckTools("systemctl"); err != nil {
		return err
	}
	return o.Sysd.Status()
}

// Logs streams the service journal.
func (o *Orchestrator) Logs(follow bool) error {
	if err := CheckTools("journalctl"); err != nil {
		return err
	}
	return o.Sysd.Logs(follow)
}

// deploy provisions the install directory and copies the entry point, the
// dependency manifest and the secrets file from the source tree into it.
// Only these deployed files are overwritten; backed-up state files are
// left alone.
func (o *Orchestrator) deploy() error {
	dir := o.Config.InstallDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("provisioning %s: %w", dir, err)
	}
	entries := []struct {
		name     string
		required bool
		mode     os.FileMode
	}{
		{o.Config.EntryPoint, true, 0644},
		{requirementsFile, false, 0644},
	}
	for _, e := range entries {
		src := filepath.Join(o.SourceDir, e.name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			if e.required {
				return fmt.Errorf("entry point %s not found in %s", e.name, o.SourceDir)
			}
			continue
		}
		dst := filepath.Join(dir, e.name)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := copyFile(src, dst, e.mode); err != nil {
			return fmt.Errorf("deploying %s: %w", e.name, err)
		}
	}
	if o.Secrets.Exists() {
		dst := filepath.Join(dir, unit.SecretsFileName)
		if err := copyFile(o.Secrets.Path, dst, 0600); err != nil {
			return fmt.Errorf("deploying secrets: %w", err)
		}
	}
	// the service account owns the deployed tree so the application can
	// write its own state files next to the code
	if _, err := o.Runner.Output("chown", "-R", o.Config.RunAsUser+":", dir); err != nil {
		o.warnf("chown %s: %v", dir, err)
	}
	return nil
}

// installDependencies builds (or refreshes) an isolated environment and
// installs the manifest into it when one exists.
func (o *Orchestrator) installDependencies(venv string) error {
	if _, err := os.Stat(venv); os.IsNotExist(err) {
		if _, err := o.Runner.Output("python3", "-m", "venv", venv); err != nil {
			return fmt.Errorf("creating environment: %w", err)
		}
	}
	manifest := filepath.Join(o.SourceDir, requirementsFile)
	if _, err := os.Stat(manifest); os.IsNotExist(err) {
		return nil
	}
	pip := filepath.Join(venv, "bin", "pip")
	if _, err := o.Runner.Output(pip, "install", "-q", "-r", manifest); err != nil {
		return fmt.Errorf("installing dependencies: %w", err)
	}
	return nil
}

// writeUnit renders and installs the unit definition, then reloads systemd.
func (o *Orchestrator) writeUnit() error {
	text, err := unit.Render(o.Config, o.Secrets.Exists())
	if err != nil {
		return fmt.Errorf("rendering unit: %w", err)
	}
	path := filepath.Join(o.UnitDir, unit.FileName(o.Config.Name))
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("writing unit: %w", err)
	}
	if err := o.Sysd.DaemonReload(); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

// checkHealth polls the configured URL after a (re)start. A timeout is a
// warning; the operation is still complete.
func (o *Orchestrator) checkHealth() {
	if o.Config.HealthcheckURL == "" {
		return
	}
	if err := o.Health.Poll(o.Config.HealthcheckURL, health.DefaultMaxSeconds); err != nil {
		o.warnf("health check: %v (inspect the service logs)", err)
	}
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
