// Package secrets persists sensitive key=value pairs for a deployment.
// The backing file doubles as the systemd EnvironmentFile, so keys become
// process environment variables at service start.
package secrets

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/joho/godotenv"
)

// PortKey is the one secret every deployment carries: the allocated port.
const PortKey = "PORT"

// Store reads and writes a single secrets file with owner-only permissions.
type Store struct {
	Path string
}

// Exists reports whether the secrets file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Get returns the value for key, or false if the key or file is absent.
func (s *Store) Get(key string) (string, bool) {
	values, err := s.read()
	if err != nil {
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// Set overwrites-or-appends a single key without disturbing the others,
// then tightens the file to owner read/write only.
func (s *Store) Set(key, value string) error {
	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value
	if err := godotenv.Write(values, s.Path); err != nil {
		return fmt.Errorf("writing %s: %w", s.Path, err)
	}
	if err := os.Chmod(s.Path, 0600); err != nil {
		return fmt.Errorf("restricting %s: %w", s.Path, err)
	}
	return nil
}

// Keys returns all stored key names, sorted.
func (s *Store) Keys() []string {
	values, err := s.read()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Port returns the allocated port, or false if none is stored.
func (s *Store) Port() (int, bool) {
	raw, ok := s.Get(PortKey)
	if !ok {
		return 0, false
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return p, true
}

// SetPort stores the allocated port.
func (s *Store) SetPort(port int) error {
	return s.Set(PortKey, strconv.Itoa(port))
}

// All returns a copy of every stored pair, for export into a child
// process environment during test runs.
func (s *Store) All() (map[string]string, error) {
	return s.read()
}

// Remove deletes the secrets file. Called only when the operator confirms
// install-directory removal at uninstall.
func (s *Store) Remove() error {
	err := os.Remove(s.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) read() (map[string]string, error) {
	if !s.Exists() {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	return values, nil
}

// TemplateKeys reads an optional template enumerating the secret keys the
// deployed application requires, sorted by name. A missing template yields
// no keys.
func TemplateKeys(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// TemplateDefault returns the template's value for key, used to pre-seed
// prompts (a PORT entry pre-seeds the port prompt).
func TemplateDefault(path, key string) string {
	if path == "" {
		return ""
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return ""
	}
	return values[key]
}
