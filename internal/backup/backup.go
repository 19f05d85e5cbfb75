// Package backup snapshots configured stateful files before an upgrade
// overwrites the deployed tree. Artifacts are append-only; nothing here
// ever deletes an old snapshot.
package backup

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"
)

// timestampLayout keeps artifact names sortable.
const timestampLayout = "20060102-150405"

// Artifact is one timestamped copy of a backed-up file.
type Artifact struct {
	Source string
	Path   string
}

// Warning is a per-file problem that did not abort the backup pass.
type Warning struct {
	File    string
	Message string
}

// Policy copies configured files to timestamped siblings, attributing the
// copies to the run-as user. Now is swappable in tests.
type Policy struct {
	Now func() time.Time
}

// Run backs up each configured file found in installDir. A missing source
// is a warning, not an error; only an actual copy failure aborts.
func (p *Policy) Run(installDir string, files []string, owner string) ([]Artifact, []Warning, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	stamp := now().Format(timestampLayout)

	uid, gid, ownerErr := lookupIDs(owner)

	var artifacts []Artifact
	var warnings []Warning
	for _, name := range files {
		src := filepath.Join(installDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			warnings = append(warnings, Warning{File: name, Message: "not found, skipping backup"})
			continue
		}
		dst := src + ".bak_" + stamp
		if err := copyFile(src, dst); err != nil {
			return artifacts, warnings, fmt.Errorf("backing up %s: %w", name, err)
		}
		if ownerErr != nil {
			warnings = append(warnings, Warning{File: name, Message: "cannot resolve owner " + owner + ", artifact keeps current ownership"})
		} else if err := os.Chown(dst, uid, gid); err != nil {
			warnings = append(warnings, Warning{File: name, Message: "chown failed: " + err.Error()})
		}
		artifacts = append(artifacts, Artifact{Source: src, Path: dst})
	}
	return artifacts, warnings, nil
}

func lookupIDs(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
