package selfupdate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempExe(t *testing.T, content string) *Guard {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svclift")
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
	return &Guard{ExePath: path}
}

func TestFingerprintStable(t *testing.T) {
	g := tempExe(t, "build-1")
	a, err := g.Fingerprint()
	require.NoError(t, err)
	b, err := g.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex of a 256-bit digest
}

func TestChangedDetectsReplacement(t *testing.T) {
	g := tempExe(t, "build-1")
	before, err := g.Fingerprint()
	require.NoError(t, err)

	changed, err := g.Changed(before)
	require.NoError(t, err)
	assert.False(t, changed)

	// a sync replaces the executable on disk
	require.NoError(t, os.WriteFile(g.ExePath, []byte("build-2"), 0755))
	changed, err = g.Changed(before)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestResuming(t *testing.T) {
	g := tempExe(t, "x")
	assert.False(t, g.Resuming())

	t.Setenv(resumeEnv, resumePhaseDeploy)
	assert.True(t, g.Resuming())

	t.Setenv(resumeEnv, "other")
	assert.False(t, g.Resuming())
}

func TestReexecRefusedWhenResuming(t *testing.T) {
	// a resumed pass must never hand off a second time in the same
	// invocation
	g := tempExe(t, "x")
	t.Setenv(resumeEnv, resumePhaseDeploy)
	err := g.Reexec()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already re-executed")
}

func TestNewResolvesExecutable(t *testing.T) {
	g, err := New()
	require.NoError(t, err)
	assert.NotEmpty(t, g.ExePath)

	_, err = g.Fingerprint()
	assert.NoError(t, err)
}
