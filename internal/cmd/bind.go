package cmd

import (
	"fmt"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/internal/config"
	"github.com/usbipd-go/usbipd/registry"
)

// BindCmd implements `usbipd bind <busid>` (spec.md §6): validates busid,
// adds it to the allow-list, and persists the config. Exits with an error
// (CLI exit code 1) if the device is not found, per §6.
type BindCmd struct {
	BusID string `arg:"" help:"Device bus id, e.g. 1-1 or 1-1.2"`
}

func (b *BindCmd) Run(cli *CLI) error {
	if !registry.ValidBusID(b.BusID) {
		return fmt.Errorf("bind: %q does not match the required busid format", b.BusID)
	}

	path, err := resolveConfigPath(cli.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := loadOrDefault(path)
	if err != nil {
		return err
	}

	be, err := backend.NewLibusbBackend()
	if err != nil {
		return fmt.Errorf("bind: open backend: %w", err)
	}
	defer func() { _ = be.Close() }()

	reg := registry.New(be, nil) // unfiltered lookup: bind must see every device, allowed or not
	devices, err := reg.List()
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	var deviceKey string
	found := false
	for _, d := range devices {
		if d.BusID == b.BusID {
			deviceKey = d.Key()
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("bind: no device found with busid %s", b.BusID)
	}

	cfg = cfg.AddAllowed(deviceKey)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("bound %s\n", deviceKey)
	return nil
}
