// Package selfupdate detects that source synchronization replaced the
// orchestrator's own executable mid-run and hands execution off to the new
// image. The handoff is a checkpoint: nothing in memory crosses it, so
// everything the resumed pass needs must already be on disk.
package selfupdate

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/zeebo/blake3"
)

// resumeEnv marks the re-executed pass so upgrade steps that already ran
// (stop, backup, sync) are not applied twice in the same invocation.
const resumeEnv = "SVCLIFT_RESUME_PHASE"

const resumePhaseDeploy = "deploy"

// Guard fingerprints the running executable around a sync.
type Guard struct {
	ExePath string
}

// New resolves the running executable, following symlinks so the
// fingerprint tracks the real file a sync may replace.
func New() (*Guard, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", exe, err)
	}
	return &Guard{ExePath: resolved}, nil
}

// Fingerprint returns the blake3 hash of the executable's current content.
func (g *Guard) Fingerprint() (string, error) {
	f, err := os.Open(g.ExePath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", g.ExePath, err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", g.ExePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Changed reports whether the executable differs from the given
// pre-sync fingerprint.
func (g *Guard) Changed(before string) (bool, error) {
	after, err := g.Fingerprint()
	if err != nil {
		return false, err
	}
	return after != before, nil
}

// Resuming reports whether this process is the post-handoff pass.
func (g *Guard) Resuming() bool {
	return os.Getenv(resumeEnv) == resumePhaseDeploy
}

// Reexec replaces the current process image with the updated executable,
// keeping the original arguments and marking the child as resumed. On
// success it never returns. Resuming processes refuse a second handoff.
func (g *Guard) Reexec() error {
	if g.Resuming() {
		return fmt.Errorf("already re-executed once in this invocation")
	}
	env := append(os.Environ(), resumeEnv+"="+resumePhaseDeploy)
	if err := syscall.Exec(g.ExePath, os.Args, env); err != nil {
		return fmt.Errorf("re-executing %s: %w", g.ExePath, err)
	}
	return nil
}
