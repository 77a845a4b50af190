package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCaptureDefaults(t *testing.T) {
	path := writeTemp(t, `
stream_url = "redis://localhost:6379/0"

[[interfaces]]
name = "eth0"
promiscuous = true
`)
	c, err := LoadCapture(path)
	require.NoError(t, err)
	require.Equal(t, "mirror", c.Mode)
	require.Equal(t, 1000, c.BatchSize)
	require.Equal(t, 100, c.FlushIntervalMs)
	require.Equal(t, "netsentinel:frames", c.StreamName)
	require.Len(t, c.Interfaces, 1)
	require.Equal(t, "eth0", c.Interfaces[0].Name)
}

func TestLoadCaptureRejectsNoInterfaces(t *testing.T) {
	path := writeTemp(t, `stream_url = "redis://localhost:6379/0"`)
	_, err := LoadCapture(path)
	require.Error(t, err)
}

func TestLoadCaptureRejectsBadMode(t *testing.T) {
	path := writeTemp(t, `
mode = "bypass"
stream_url = "redis://localhost:6379/0"

[[interfaces]]
name = "eth0"
`)
	_, err := LoadCapture(path)
	require.Error(t, err)
}

func TestLoadAggregatorDefaults(t *testing.T) {
	path := writeTemp(t, `
stream_url = "redis://localhost:6379/0"
database_url = "postgres://localhost/netsentinel"
`)
	a, err := LoadAggregator(path)
	require.NoError(t, err)
	require.Equal(t, 60, a.PersistIntervalSecs)
	require.Equal(t, "aggregator", a.ConsumerGroup)
	require.Equal(t, 300, a.ActivityWindowSecs)
}

func TestResolvePathPrecedence(t *testing.T) {
	require.Equal(t, "/flag", ResolvePath("/flag", "NETSENTINEL_TEST_PATH", "/fallback"))

	t.Setenv("NETSENTINEL_TEST_PATH", "/env")
	require.Equal(t, "/env", ResolvePath("", "NETSENTINEL_TEST_PATH", "/fallback"))

	require.Equal(t, "/fallback", ResolvePath("", "NETSENTINEL_TEST_PATH_UNSET", "/fallback"))
}
