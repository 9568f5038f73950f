package cmd

import (
	"fmt"

	"github.com/usbipd-go/usbipd/internal/config"
)

// UnbindCmd implements `usbipd unbind <busid>` (spec.md §6): removes busid
// from the allow-list. Idempotent — exits 0 and prints an informational
// line even when the device was never bound.
type UnbindCmd struct {
	BusID string `arg:"" help:"Device bus id, e.g. 1-1 or 1-1.2"`
}

func (u *UnbindCmd) Run(cli *CLI) error {
	path, err := resolveConfigPath(cli.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := loadOrDefault(path)
	if err != nil {
		return err
	}

	wasBound := false
	for _, k := range cfg.AllowedDevices {
		if hasBusIDPrefix(k, u.BusID) {
			wasBound = true
			cfg = cfg.RemoveAllowed(k)
		}
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}

	if wasBound {
		fmt.Printf("unbound %s\n", u.BusID)
	} else {
		fmt.Printf("%s was not bound\n", u.BusID)
	}
	return nil
}

// hasBusIDPrefix matches an allow-list device_key ("{bus_id}-{device_id}")
// against a bare bus_id the CLI was given.
func hasBusIDPrefix(deviceKey, busID string) bool {
	return len(deviceKey) > len(busID) && deviceKey[:len(busID)] == busID && deviceKey[len(busID)] == '-'
}
