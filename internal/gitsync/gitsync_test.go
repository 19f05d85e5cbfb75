package gitsync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records git invocations and replays canned output.
type fakeRunner struct {
	outputs map[string]string // keyed by first argument
	failOn  string
	calls   [][]string
}

func (f *fakeRunner) Output(dir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.failOn != "" && args[0] == f.failOn {
		return "", fmt.Errorf("git %s failed", args[0])
	}
	return f.outputs[args[0]], nil
}

func (f *fakeRunner) commands() []string {
	var out []string
	for _, call := range f.calls {
		out = append(out, strings.Join(call, " "))
	}
	return out
}

func repoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0755))
	return dir
}

func TestNewestLocal(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"for-each-ref": "feature/fast\nmain\nold-branch\n",
	}}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}
	assert.Equal(t, "feature/fast", s.NewestLocal())
}

func TestNewestLocalFallsBack(t *testing.T) {
	// no local branches at all
	runner := &fakeRunner{outputs: map[string]string{"for-each-ref": "\n"}}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}
	assert.Equal(t, "main", s.NewestLocal())

	// not a repository: git is never invoked
	s = &Syncer{Dir: t.TempDir(), DefaultBranch: "main", Runner: runner}
	before := len(runner.calls)
	assert.Equal(t, "main", s.NewestLocal())
	assert.Len(t, runner.calls, before)
}

func TestRemoteBranches(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"branch": "  origin/HEAD -> origin/main\n  origin/main\n  origin/staging\n",
	}}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}
	branches, err := s.RemoteBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "staging"}, branches)
}

func TestSyncForceReset(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{}}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}

	require.NoError(t, s.Sync("main", true))
	assert.Equal(t, []string{
		"checkout main",
		"fetch origin",
		"reset --hard origin/main",
	}, runner.commands())
}

func TestSyncStandardPull(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{}}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}

	require.NoError(t, s.Sync("main", false))
	assert.Equal(t, []string{
		"checkout main",
		"pull --ff-only",
	}, runner.commands())
}

func TestSyncConflictSurfaced(t *testing.T) {
	runner := &fakeRunner{failOn: "pull"}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}

	err := s.Sync("main", false)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "main", conflict.Branch)
}

func TestSyncNonRepoIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	s := &Syncer{Dir: t.TempDir(), DefaultBranch: "main", Runner: runner}
	require.NoError(t, s.Sync("main", true))
	assert.Empty(t, runner.calls)
}

func TestSyncCheckoutFailure(t *testing.T) {
	runner := &fakeRunner{failOn: "checkout"}
	s := &Syncer{Dir: repoDir(t), DefaultBranch: "main", Runner: runner}
	err := s.Sync("missing-branch", false)
	require.Error(t, err)
	var conflict *ConflictError
	assert.False(t, errors.As(err, &conflict), "checkout failure is not a conflict")
}

func TestNewSyncerDefaults(t *testing.T) {
	s := NewSyncer("/tmp/x", "")
	assert.Equal(t, "main", s.DefaultBranch)
}
