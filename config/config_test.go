package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exclude_cache_files: false
file_type_filter: ["jpg", "raf"]
control_api_addr: "127.0.0.1:9090"
destination_backends:
  /Volumes/NAS:
    kind: webdav
    endpoint: https://nas.local/dav
    credential_key: nas-backup
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.False(t, cfg.ExcludeCacheFiles)
	require.True(t, cfg.SkipHiddenFiles) // untouched default survives
	require.Equal(t, []string{"jpg", "raf"}, cfg.FileTypeFilter)
	require.Equal(t, "127.0.0.1:9090", cfg.ControlAPIAddr)

	backend, ok := cfg.DestinationBackends["/Volumes/NAS"]
	require.True(t, ok)
	require.Equal(t, BackendWebDAV, backend.Kind)
	require.Equal(t, "nas-backup", backend.CredentialKey)
}

func TestFreeSpaceThresholdBytes(t *testing.T) {
	cfg := Default()

	v, err := cfg.FreeSpaceThresholdBytes()
	require.NoError(t, err)
	require.Equal(t, int64(1<<30), v)
}
