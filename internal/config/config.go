// Package config loads and validates the updater's TOML configuration
// file. CLI flags are bound separately, in cmd/updater/commands.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// RemoteConfig is one `[remotes.<name>]` table.
type RemoteConfig struct {
	BaseURL string `toml:"base_url"`
	Product string `toml:"product"`
}

// Config is the fully parsed configuration file, spec §6.
type Config struct {
	VGName      string `toml:"vg_name"`
	CoreLVSize  uint64 `toml:"core_lv_size"`
	StateLVSize uint64 `toml:"state_lv_size"`
	SwapLVSize  uint64 `toml:"swap_lv_size"`

	EFIMount  string `toml:"efi_mount"`
	EFISubdir string `toml:"efi_subdir"`

	PublicKeyPath string `toml:"public_key"`

	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`

	Remotes map[string]RemoteConfig `toml:"remotes"`
}

// RequestTimeout returns the configured per-request HTTP deadline,
// defaulting to 30s when unset, per spec §5 "configurable per-request
// deadline".
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load parses a TOML configuration file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields every invocation needs regardless of which
// remote is selected.
func (c *Config) Validate() error {
	if c.VGName == "" {
		return fmt.Errorf("vg_name cannot be empty")
	}
	if c.CoreLVSize == 0 {
		return fmt.Errorf("core_lv_size must be positive")
	}
	if c.EFIMount == "" {
		return fmt.Errorf("efi_mount cannot be empty")
	}
	if c.EFISubdir == "" {
		return fmt.Errorf("efi_subdir cannot be empty")
	}
	if c.PublicKeyPath == "" {
		return fmt.Errorf("public_key cannot be empty")
	}
	if len(c.Remotes) == 0 {
		return fmt.Errorf("at least one remote must be configured")
	}
	return nil
}

// Remote looks up a configured remote profile by name.
func (c *Config) Remote(name string) (RemoteConfig, error) {
	remote, ok := c.Remotes[name]
	if !ok {
		return RemoteConfig{}, fmt.Errorf("unknown remote %q", name)
	}
	if remote.BaseURL == "" {
		return RemoteConfig{}, fmt.Errorf("remote %q has no base_url", name)
	}
	if remote.Product == "" {
		return RemoteConfig{}, fmt.Errorf("remote %q has no product", name)
	}
	return remote, nil
}
