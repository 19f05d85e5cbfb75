// Package ports validates and reserves a usable network port for a
// deployment. A candidate passes only if it is numeric, outside the
// privileged range, absent from the forbidden catalog, and not currently
// bound by a listener on this host.
package ports

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

//go:embed forbidden_ports.csv
var defaultCatalogCSV string

// Catalog maps a forbidden port to the recorded reason it is barred.
type Catalog map[int]string

// DefaultCatalog returns the built-in forbidden-port catalog.
func DefaultCatalog() Catalog {
	cat, err := parseCatalog(strings.NewReader(defaultCatalogCSV))
	if err != nil {
		// the embedded catalog is validated by tests
		panic(err)
	}
	return cat
}

// LoadCatalog reads a port,reason CSV file. A missing file falls back to
// the built-in catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cat, err := parseCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return cat, nil
}

func parseCatalog(r io.Reader) (Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	cat := make(Catalog, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		cat[port] = strings.TrimSpace(row[1])
	}
	return cat, nil
}

// RejectionError explains why a candidate port was refused.
type RejectionError struct {
	Candidate  string
	Message    string
	Suggestion string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("port %s: %s", e.Candidate, e.Message)
}

// Inspector abstracts host tool lookup and execution for testing.
type Inspector interface {
	LookPath(name string) (string, error)
	Output(name string, args ...string) ([]byte, error)
}

// OSInspector runs real host tools.
type OSInspector struct{}

func (OSInspector) LookPath(name string) (string, error) { return exec.LookPath(name) }
func (OSInspector) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Allocator applies the four-step port validation.
type Allocator struct {
	Catalog   Catalog
	Inspector Inspector
}

// NewAllocator builds an allocator over the given catalog using real host
// introspection.
func NewAllocator(cat Catalog) *Allocator {
	return &Allocator{Catalog: cat, Inspector: OSInspector{}}
}

// Validate checks one candidate and returns the accepted port number.
// Callers loop on *RejectionError, re-prompting the operator; a different
// value is never substituted silently.
func (a *Allocator) Validate(candidate string) (int, error) {
	candidate = strings.TrimSpace(candidate)
	port, err := strconv.Atoi(candidate)
	if err != nil {
		return 0, &RejectionError{Candidate: candidate, Message: "not a number"}
	}
	if port < 1024 {
		return 0, &RejectionError{
			Candidate:  candidate,
			Message:    "ports below 1024 are reserved",
			Suggestion: "pick a port between 1024 and 65535",
		}
	}
	if port > 65535 {
		return 0, &RejectionError{Candidate: candidate, Message: "ports above 65535 do not exist"}
	}
	if reason, forbidden := a.Catalog[port]; forbidden {
		return 0, &RejectionError{
			Candidate:  candidate,
			Message:    "forbidden: " + reason,
			Suggestion: "choose a port not reserved for other services",
		}
	}
	if a.inUse(port) {
		return 0, &RejectionError{
			Candidate:  candidate,
			Message:    "a process is already listening on this port",
			Suggestion: "stop the other process or choose a different port",
		}
	}
	return port, nil
}

// listenerTools are tried in order; the first one present on the host
// decides. With none available the check degrades to "assume free" rather
// than blocking the operator.
var listenerTools = []struct {
	name string
	args []string
}{
	{"ss", []string{"-lnt"}},
	{"netstat", []string{"-lnt"}},
	{"lsof", []string{"-nP", "-iTCP", "-sTCP:LISTEN"}},
}

func (a *Allocator) inUse(port int) bool {
	for _, tool := range listenerTools {
		if _, err := a.Inspector.LookPath(tool.name); err != nil {
			continue
		}
		out, err := a.Inspector.Output(tool.name, tool.args...)
		if err != nil {
			continue
		}
		return listensOn(string(out), port)
	}
	return false
}

// listensOn scans listener-table output for a local address ending in
// ":<port>". The suffix match covers ss, netstat and lsof output alike.
func listensOn(out string, port int) bool {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Fields(line) {
			if strings.HasSuffix(field, suffix) {
				return true
			}
		}
	}
	return false
}
