package sysd

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]string // keyed by joined argv
	fail    bool
	calls   []string
}

func (f *fakeRunner) Output(name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if f.fail {
		return "", fmt.Errorf("%s failed", call)
	}
	return f.outputs[call], nil
}

func (f *fakeRunner) Stream(name string, args ...string) error {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	return nil
}

func TestLifecycleCommands(t *testing.T) {
	runner := &fakeRunner{}
	m := &Manager{Unit: "weatherbot.service", Runner: runner}

	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())
	require.NoError(t, m.Restart())
	require.NoError(t, m.Enable())
	require.NoError(t, m.Disable())
	require.NoError(t, m.DaemonReload())

	assert.Equal(t, []string{
		"systemctl start weatherbot.service",
		"systemctl stop weatherbot.service",
		"systemctl restart weatherbot.service",
		"systemctl enable weatherbot.service",
		"systemctl disable weatherbot.service",
		"systemctl daemon-reload",
	}, runner.calls)
}

func TestIsActive(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"systemctl is-active weatherbot.service": "active\n",
	}}
	m := &Manager{Unit: "weatherbot.service", Runner: runner}
	assert.True(t, m.IsActive())

	// systemctl exits non-zero for inactive units
	m.Runner = &fakeRunner{fail: true}
	assert.False(t, m.IsActive())
}

func TestLogs(t *testing.T) {
	runner := &fakeRunner{}
	m := &Manager{Unit: "weatherbot.service", Runner: runner}

	require.NoError(t, m.Logs(false))
	require.NoError(t, m.Logs(true))
	assert.Equal(t, []string{
		"journalctl -u weatherbot.service --no-pager -n 100",
		"journalctl -u weatherbot.service --no-pager -f",
	}, runner.calls)
}
