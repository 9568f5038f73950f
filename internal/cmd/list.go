package cmd

import (
	"fmt"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/registry"
)

// ListCmd implements `usbipd list` (spec.md §6): `-l/--local` lists the
// devices the backend can see that the allow-list exports; `-r/--remote` is accepted for CLI parity but
// is a Non-goal here (this core never acts as a USB/IP client, spec.md §1),
// so it reports that explicitly rather than silently doing nothing.
type ListCmd struct {
	// Local is accepted for CLI parity with spec.md §6's `-l/--local` flag.
	// Listing is always local (there is no remote enumeration path), so
	// Run doesn't need to branch on it.
	Local  bool `short:"l" help:"List local exportable devices"`
	Remote bool `short:"r" help:"List devices exported by a remote host (not supported by this server)"`
}

// Run lists devices via the backend, filtered through the current
// allow-list the same way the Device Registry would at connection time.
func (l *ListCmd) Run(cli *CLI) error {
	if l.Remote {
		return fmt.Errorf("list --remote: this server does not implement USB/IP client behavior")
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
		return fmt.Errorf("list: open backend: %w", err)
	}
	defer func() { _ = be.Close() }()

	reg := registry.New(be, cfg.AllowedDevices)
	devices, err := reg.List()
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("No exportable devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-12s %04x:%04x %s %s\n", d.Key(), d.VendorID, d.ProductID, d.Manufacturer, d.Product)
	}
	return nil
}
