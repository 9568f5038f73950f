package cmd

import (
	"fmt"
	"os"

	"github.com/usbipd-go/usbipd/internal/config"
	"github.com/usbipd-go/usbipd/internal/configpaths"
)

func defaultNamedConfigPath() (string, error) {
	return configpaths.DefaultConfigPath("json")
}

// ConfigInitGroup groups config-related subcommands under `config`.
type ConfigInitGroup struct {
	Init ConfigInitCmd `cmd:"" help:"Generate a configuration template"`
}

// ConfigInitCmd scaffolds a ServerConfig template on disk.
type ConfigInitCmd struct {
	Format string `help:"Output format" enum:"json,yaml,toml" default:"json"`
	Output string `help:"Destination file path (defaults to the platform config path)"`
	Force  bool   `help:"Overwrite if the file already exists"`
}

// Run writes config.Default() to disk. The file format follows the
// destination's extension: --format picks the extension of the default
// path, but an explicit --output path is written in the format its own
// extension implies (JSON when it has none).
func (c *ConfigInitCmd) Run() error {
	dest := c.Output
	if dest == "" {
		path, err := configpaths.DefaultConfigPath(c.Format)
		if err != nil {
			return fmt.Errorf("config init: resolve default path: %w", err)
		}
		dest = path
	}
	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("config init: %s already exists; use --force to overwrite", dest)
		}
	}
	return config.Save(dest, config.Default())
}
