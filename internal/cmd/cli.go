// Package cmd holds the Kong subcommand structs for the usbipd CLI (spec.md
// §6): list, bind, unbind, daemon, status, and config init — mirroring the
// teacher's internal/cmd/*.go layout and Run-method-per-subcommand style.
package cmd

import (
	"github.com/usbipd-go/usbipd/internal/config"
)

// CLI is the root Kong command struct parsed by cmd/usbipd/main.go.
type CLI struct {
	Log struct {
		Level string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"USBIPD_LOG_LEVEL"`
		File  string `help:"Log file path (default: stdout/stderr)" env:"USBIPD_LOG_FILE"`
		Raw   string `help:"Raw wire trace file (hex dump of every frame)" env:"USBIPD_RAW_LOG_FILE"`
	} `embed:"" prefix:"log."`

	ConfigPath string `name:"config" help:"Path to a config file (JSON/YAML/TOML)" env:"USBIPD_CONFIG"`

	List      ListCmd         `cmd:"" help:"List local and allowed USB devices"`
	Bind      BindCmd         `cmd:"" help:"Add a device to the allow-list"`
	Unbind    UnbindCmd       `cmd:"" help:"Remove a device from the allow-list"`
	Daemon    DaemonCmd       `cmd:"" help:"Run the USB/IP server"`
	Status    StatusCmd       `cmd:"" help:"Report server status"`
	ConfigCmd ConfigInitGroup `cmd:"" name:"config" help:"Configuration file utilities"`
}

// resolveConfigPath returns the path the subcommand should load/save
// ServerConfig from: the explicit --config flag, or the platform default.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return defaultConfigPathFallback()
}

// loadOrDefault loads ServerConfig from path, falling back to defaults (not
// an error) when the file does not exist yet — a fresh install has no
// config file until the first `bind` or `config init`.
func loadOrDefault(path string) (config.ServerConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if isNotExist(err) {
			return config.Default(), nil
		}
		return config.ServerConfig{}, err
	}
	return cfg, nil
}
