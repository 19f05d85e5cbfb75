// Package gitsync keeps the deployed tree in step with its authoritative
// git repository. All git work shells out to the host's git client; a tree
// that is not under version control makes every operation a no-op.
package gitsync

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner abstracts git execution for testing.
type Runner interface {
	Output(dir string, args ...string) (string, error)
}

// GitRunner executes the real git client.
type GitRunner struct{}

func (GitRunner) Output(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ConflictError marks a standard pull that could not fast-forward. The
// orchestrator surfaces it and aborts; local conflicts are the operator's
// to resolve (or avoid entirely with force reset).
type ConflictError struct {
	Branch string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pull of %s cannot fast-forward: %v", e.Branch, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Syncer selects a branch and synchronizes one working tree.
type Syncer struct {
	Dir           string
	DefaultBranch string
	Runner        Runner
}

// NewSyncer builds a Syncer over the real git client.
func NewSyncer(dir, defaultBranch string) *Syncer {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &Syncer{Dir: dir, DefaultBranch: defaultBranch, Runner: GitRunner{}}
}

// IsRepo reports whether the tree is under version control.
func (s *Syncer) IsRepo() bool {
	info, err := os.Stat(filepath.Join(s.Dir, ".git"))
	return err == nil && info.IsDir()
}

// NewestLocal returns the local branch with the most recent commit, falling
// back to the default branch when there is none or the tree is not a repo.
func (s *Syncer) NewestLocal() string {
	if !s.IsRepo() {
		return s.DefaultBranch
	}
	out, err := s.Runner.Output(s.Dir,
		"for-each-ref", "--sort=-committerdate", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return s.DefaultBranch
	}
	for _, line := range strings.Split(out, "\n") {
		if b := strings.TrimSpace(line); b != "" {
			return b
		}
	}
	return s.DefaultBranch
}

// RemoteBranches lists remote branch names with the remote prefix stripped,
// for the operator to choose from.
func (s *Syncer) RemoteBranches() ([]string, error) {
	if !s.IsRepo() {
		return nil, nil
	}
	out, err := s.Runner.Output(s.Dir, "branch", "-r")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		b := strings.TrimSpace(line)
		if b == "" || strings.Contains(b, "->") {
			continue
		}
		if idx := strings.Index(b, "/"); idx != -1 {
			b = b[idx+1:]
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// Sync checks out the revision and brings it up to date. With forceReset
// the local tree is discarded in favor of the remote tip (appliance mode);
// otherwise only a fast-forward pull is attempted and anything else is a
// ConflictError.
func (s *Syncer) Sync(revision string, forceReset bool) error {
	if !s.IsRepo() {
		return nil
	}
	if _, err := s.Runner.Output(s.Dir, "checkout", revision); err != nil {
		return fmt.Errorf("checkout %s: %w", revision, err)
	}
	if forceReset {
		if _, err := s.Runner.Output(s.Dir, "fetch", "origin"); err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if _, err := s.Runner.Output(s.Dir, "reset", "--hard", "origin/"+revision); err != nil {
			return fmt.Errorf("reset to origin/%s: %w", revision, err)
		}
		return nil
	}
	if _, err := s.Runner.Output(s.Dir, "pull", "--ff-only"); err != nil {
		return &ConflictError{Branch: revision, Err: err}
	}
	return nil
}
