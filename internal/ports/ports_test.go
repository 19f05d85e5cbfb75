package ports

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInspector simulates a host with a given set of tools and a canned
// listener table.
type fakeInspector struct {
	tools  map[string]string
	output string
	calls  []string
}

func (f *fakeInspector) LookPath(name string) (string, error) {
	if path, ok := f.tools[name]; ok {
		return path, nil
	}
	return "", fmt.Errorf("%s not found", name)
}

func (f *fakeInspector) Output(name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	return []byte(f.output), nil
}

const ssOutput = `State   Recv-Q  Send-Q  Local Address:Port  Peer Address:Port
LISTEN  0       128     0.0.0.0:22          0.0.0.0:*
LISTEN  0       511     127.0.0.1:6000      0.0.0.0:*
LISTEN  0       128     [::]:8081           [::]:*
`

func newTestAllocator(tools map[string]string, output string) (*Allocator, *fakeInspector) {
	insp := &fakeInspector{tools: tools, output: output}
	alloc := &Allocator{Catalog: DefaultCatalog(), Inspector: insp}
	return alloc, insp
}

func TestValidateAccepts(t *testing.T) {
	alloc, _ := newTestAllocator(map[string]string{"ss": "/usr/bin/ss"}, ssOutput)
	port, err := alloc.Validate("5001")
	require.NoError(t, err)
	assert.Equal(t, 5001, port)
}

func TestValidateRejectsFormat(t *testing.T) {
	alloc, _ := newTestAllocator(nil, "")
	for _, bad := range []string{"", "abc", "50 01", "5001x"} {
		_, err := alloc.Validate(bad)
		var rej *RejectionError
		require.ErrorAs(t, err, &rej, "input %q", bad)
	}
}

func TestValidateRejectsRange(t *testing.T) {
	alloc, _ := newTestAllocator(nil, "")
	for _, bad := range []string{"0", "22", "1023", "65536", "70000"} {
		_, err := alloc.Validate(bad)
		var rej *RejectionError
		require.ErrorAs(t, err, &rej, "input %q", bad)
	}
	// boundaries pass
	_, err := alloc.Validate("1024")
	assert.NoError(t, err)
	_, err = alloc.Validate("65535")
	assert.NoError(t, err)
}

func TestValidateRejectsForbiddenWithReason(t *testing.T) {
	alloc, _ := newTestAllocator(nil, "")
	_, err := alloc.Validate("5000")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Message, "Flask")
}

func TestScenarioForbiddenDefaultThenFreePort(t *testing.T) {
	// default 5000 is catalog-forbidden; the operator must supply another
	// value, 5001 passes all four checks
	alloc, _ := newTestAllocator(map[string]string{"ss": "/usr/bin/ss"}, ssOutput)

	_, err := alloc.Validate("5000")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)

	port, err := alloc.Validate("5001")
	require.NoError(t, err)
	assert.Equal(t, 5001, port)
}

func TestValidateRejectsBoundPort(t *testing.T) {
	alloc, _ := newTestAllocator(map[string]string{"ss": "/usr/bin/ss"}, ssOutput)
	_, err := alloc.Validate("6000")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Message, "listening")

	// IPv6-style local address
	_, err = alloc.Validate("8081")
	require.ErrorAs(t, err, &rej)
}

func TestLiveCheckFallsBackThroughTools(t *testing.T) {
	// only lsof is present; it must be the tool consulted
	alloc, insp := newTestAllocator(map[string]string{"lsof": "/usr/bin/lsof"},
		"python3 612 svc 5u IPv4 TCP 127.0.0.1:6000 (LISTEN)")
	_, err := alloc.Validate("6000")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, []string{"lsof"}, insp.calls)
}

func TestLiveCheckAssumesFreeWithoutTools(t *testing.T) {
	// no introspection mechanism: degrade to "assume available"
	alloc, _ := newTestAllocator(nil, "")
	port, err := alloc.Validate("6000")
	require.NoError(t, err)
	assert.Equal(t, 6000, port)
}

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()
	require.NotEmpty(t, cat)
	assert.Contains(t, cat, 5000)
	assert.Contains(t, cat, 5432)
	for port, reason := range cat {
		assert.GreaterOrEqual(t, port, 1024)
		assert.NotEmpty(t, reason)
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := writeTemp(t, "9999,internal scanner\n8888, jupyter \n")
	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "internal scanner", cat[9999])
	assert.Equal(t, "jupyter", cat[8888])
}

func TestLoadCatalogMissingFallsBack(t *testing.T) {
	cat, err := LoadCatalog("/nonexistent/forbidden.csv")
	require.NoError(t, err)
	assert.Contains(t, cat, 5000)

	cat, err = LoadCatalog("")
	require.NoError(t, err)
	assert.Contains(t, cat, 5000)
}

func TestRejectionErrorMessage(t *testing.T) {
	err := error(&RejectionError{Candidate: "80", Message: "reserved"})
	assert.Equal(t, "port 80: reserved", err.Error())
	var rej *RejectionError
	assert.True(t, errors.As(err, &rej))
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "catalog-*.csv")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
