// Package sysd wraps the host's systemctl and journalctl clients. It is
// the only place the orchestrator talks to the process supervisor.
package sysd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner abstracts tool execution for testing.
type Runner interface {
	Output(name string, args ...string) (string, error)
	// Stream runs the tool with stdout/stderr attached to the terminal,
	// for status display and log following.
	Stream(name string, args ...string) error
}

// OSRunner executes real host tools.
type OSRunner struct{}

func (OSRunner) Output(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (OSRunner) Stream(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Manager drives one systemd unit.
type Manager struct {
	Unit   string // unit name including .service suffix
	Runner Runner
}

// NewManager builds a Manager over the real systemctl.
func NewManager(unitName string) *Manager {
	return &Manager{Unit: unitName, Runner: OSRunner{}}
}

func (m *Manager) systemctl(args ...string) error {
	argv := append(args, m.Unit)
	_, err := m.Runner.Output("systemctl", argv...)
	return err
}

func (m *Manager) Start() error   { return m.systemctl("start") }
func (m *Manager) Stop() error    { return m.systemctl("stop") }
func (m *Manager) Restart() error { return m.systemctl("restart") }
func (m *Manager) Enable() error  { return m.systemctl("enable") }
func (m *Manager) Disable() error { return m.systemctl("disable") }

// DaemonReload makes systemd re-read unit files after the renderer wrote one.
func (m *Manager) DaemonReload() error {
	_, err := m.Runner.Output("systemctl", "daemon-reload")
	return err
}

// IsActive reports whether the unit is currently running. systemctl exits
// non-zero for inactive units, so the error is folded into false.
func (m *Manager) IsActive() bool {
	out, err := m.Runner.Output("systemctl", "is-active", m.Unit)
	return err == nil && strings.TrimSpace(out) == "active"
}

// Status streams `systemctl status` for the unit.
func (m *Manager) Status() error {
	return m.Runner.Stream("systemctl", "status", m.Unit, "--no-pager")
}

// Logs streams the unit's journal, optionally following it.
func (m *Manager) Logs(follow bool) error {
	args := []string{"-u", m.Unit, "--no-pager"}
	if follow {
		args = append(args, "-f")
	} else {
		args = append(args, "-n", "100")
	}
	return m.Runner.Stream("journalctl", args...)
}
