// Package config owns ServerConfig — the persisted, mutable record
// described in spec.md §3/§6 — plus its JSON/YAML/TOML round trip and the
// allow-list mutations the bind/unbind CLI subcommands perform.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/usbipd-go/usbipd/internal/configpaths"
)

// ServerConfig is the persisted server configuration of spec.md §3/§6.
type ServerConfig struct {
	Port              int           `json:"port" yaml:"port" toml:"port" help:"TCP port to listen on" default:"3240" env:"USBIPD_PORT"`
	MaxConnections    int           `json:"max_connections" yaml:"max_connections" toml:"max_connections" help:"Maximum concurrent client connections" default:"10" env:"USBIPD_MAX_CONNECTIONS"`
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout" toml:"connection_timeout" help:"Idle connection timeout (0 disables)" default:"0s" env:"USBIPD_CONNECTION_TIMEOUT"`
	LogLevel          string        `json:"log_level" yaml:"log_level" toml:"log_level" help:"Log level: trace, debug, info, warn, error" default:"info" env:"USBIPD_LOG_LEVEL"`
	LogFilePath       string        `json:"log_file_path,omitempty" yaml:"log_file_path,omitempty" toml:"log_file_path,omitempty" help:"Log file path (default: stdout/stderr)" env:"USBIPD_LOG_FILE"`
	DebugMode         bool          `json:"debug_mode" yaml:"debug_mode" toml:"debug_mode" help:"Enable verbose diagnostics" default:"false" env:"USBIPD_DEBUG"`
	AllowedDevices    []string      `json:"allowed_devices" yaml:"allowed_devices" toml:"allowed_devices" kong:"-"`
	AutoBindDevices   []string      `json:"auto_bind_devices" yaml:"auto_bind_devices" toml:"auto_bind_devices" kong:"-"`
}

// Default returns the spec.md §3 defaults.
func Default() ServerConfig {
	return ServerConfig{
		Port:           3240,
		MaxConnections: 10,
		LogLevel:       "info",
	}
}

// Load reads and parses a ServerConfig from path, dispatching on the file
// extension to the matching decoder — the same three encoders the teacher
// drives in internal/cmd/config.go.
func Load(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, round-tripping losslessly through the format
// implied by the file extension (defaulting to JSON).
func Save(path string, cfg ServerConfig) error {
	if err := configpaths.EnsureDir(path); err != nil {
		return fmt.Errorf("config: ensure dir for %s: %w", path, err)
	}
	var data []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// AddAllowed adds deviceKey to AllowedDevices, idempotently (no duplicate
// entries), and returns the updated config.
func (c ServerConfig) AddAllowed(deviceKey string) ServerConfig {
	for _, k := range c.AllowedDevices {
		if k == deviceKey {
			return c
		}
	}
	c.AllowedDevices = append(append([]string{}, c.AllowedDevices...), deviceKey)
	sort.Strings(c.AllowedDevices)
	return c
}

// RemoveAllowed removes deviceKey from AllowedDevices. Idempotent: removing
// an absent key is a no-op, matching spec.md §6's unbind semantics (always
// exit 0).
func (c ServerConfig) RemoveAllowed(deviceKey string) ServerConfig {
	out := make([]string, 0, len(c.AllowedDevices))
	for _, k := range c.AllowedDevices {
		if k != deviceKey {
			out = append(out, k)
		}
	}
	c.AllowedDevices = out
	return c
}

// IsAllowed reports whether deviceKey is present in AllowedDevices. An
// empty list allows every device (spec.md §3 ServerConfig.allow_list).
func (c ServerConfig) IsAllowed(deviceKey string) bool {
	if len(c.AllowedDevices) == 0 {
		return true
	}
	for _, k := range c.AllowedDevices {
		if k == deviceKey {
			return true
		}
	}
	return false
}
