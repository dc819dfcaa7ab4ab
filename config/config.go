// Package config loads the preference store: a read-only YAML snapshot
// parsed once at job start (§6.3, SPEC_FULL.md's Preference store
// expansion). There is no live reload during a session.
package config

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DestinationBackendKind selects which destination.Backend implementation
// serves a configured mount.
type DestinationBackendKind string

// Backend kinds.
const (
	BackendLocal  DestinationBackendKind = "local"
	BackendWebDAV DestinationBackendKind = "webdav"
	BackendSFTP   DestinationBackendKind = "sftp"
)

// DestinationBackendConfig describes how to reach one non-local
// destination. CredentialKey names an entry in the OS keyring
// (zalando/go-keyring); the YAML file never holds a password directly.
type DestinationBackendConfig struct {
	Kind          DestinationBackendKind `yaml:"kind"`
	Endpoint      string                 `yaml:"endpoint"`
	CredentialKey string                 `yaml:"credential_key"`
}

// Config is the fully parsed preference store (§6.3).
type Config struct {
	ExcludeCacheFiles bool     `yaml:"exclude_cache_files"`
	SkipHiddenFiles   bool     `yaml:"skip_hidden_files"`
	FileTypeFilter    []string `yaml:"file_type_filter"`

	RestoreLastSession  bool   `yaml:"restore_last_session"`
	ShowPreflightSummary bool  `yaml:"show_preflight_summary"`
	MinimumLogLevel     string `yaml:"minimum_log_level"`

	ControlAPIAddr       string `yaml:"control_api_addr"`
	OTelExporterEndpoint string `yaml:"otel_exporter_endpoint"`
	LogRotationEnabled   bool   `yaml:"log_rotation_enabled"`

	// FreeSpaceThreshold and DigestWholeReadThreshold are parsed with
	// alecthomas/units so the YAML file can say "10MiB" instead of a raw
	// byte count.
	FreeSpaceThreshold       string `yaml:"free_space_threshold"`
	DigestWholeReadThreshold string `yaml:"digest_whole_read_threshold"`

	DestinationBackends map[string]DestinationBackendConfig `yaml:"destination_backends"`
}

// Default returns the preference store's documented defaults.
func Default() Config {
	return Config{
		ExcludeCacheFiles:    true,
		SkipHiddenFiles:      true,
		MinimumLogLevel:      "info",
		ControlAPIAddr:       "127.0.0.1:0",
		LogRotationEnabled:   true,
		FreeSpaceThreshold:   "1GiB",
		DigestWholeReadThreshold: "10MiB",
	}
}

// DefaultPath returns "~/.config/imageintact/config.yaml".
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}

	return filepath.Join(home, ".config", "imageintact", "config.yaml"), nil
}

// Load reads and parses path, starting from Default() so any field absent
// from the file keeps its documented default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg, nil
}

// FreeSpaceThresholdBytes parses FreeSpaceThreshold with
// alecthomas/units, e.g. "1GiB" -> 1073741824.
func (c Config) FreeSpaceThresholdBytes() (int64, error) {
	return parseBytes(c.FreeSpaceThreshold)
}

// DigestWholeReadThresholdBytes parses DigestWholeReadThreshold the same
// way.
func (c Config) DigestWholeReadThresholdBytes() (int64, error) {
	return parseBytes(c.DigestWholeReadThreshold)
}

func parseBytes(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	v, err := units.ParseStrictBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse byte size %q", s)
	}

	return v, nil
}
