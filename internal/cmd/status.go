package cmd

import (
	"fmt"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/internal/config"
	"github.com/usbipd-go/usbipd/internal/configpaths"
	"github.com/usbipd-go/usbipd/registry"
)

// StatusCmd implements `usbipd status [--detailed] [--health]` (spec.md
// §6). There is no control-plane API in this core (spec.md §1 Non-goals),
// so status is a point-in-time read of on-disk state rather than a query
// against a running daemon process: the persisted claim file for who holds
// what, and a fresh backend probe for what's currently attached.
type StatusCmd struct {
	Detailed bool `help:"List every claimed device and its session"`
	Health   bool `help:"Probe the backend and report whether it is reachable"`
}

func (s *StatusCmd) Run(cli *CLI) error {
	path, err := resolveConfigPath(cli.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := loadOrDefault(path)
	if err != nil {
		return err
	}

	configDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("status: resolve config dir: %w", err)
	}
	claims, err := config.LoadClaimState(config.ClaimStatePath(configDir))
	if err != nil {
		fmt.Printf("claim state: unreadable (%v)\n", err)
		claims = nil
	}

	fmt.Printf("listen port:   %d\n", cfg.Port)
	fmt.Printf("allow-list:    %d device(s)\n", len(cfg.AllowedDevices))
	fmt.Printf("claimed:       %d device(s)\n", len(claims))

	if s.Detailed {
		for _, c := range claims {
			fmt.Printf("  %-20s session=%s claimed_at=%s\n", c.DeviceKey, c.SessionID, c.ClaimedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	}

	if s.Health {
		be, err := backend.NewLibusbBackend()
		if err != nil {
			fmt.Printf("backend:       unreachable (%v)\n", err)
			return nil
		}
		defer func() { _ = be.Close() }()

		reg := registry.New(be, cfg.AllowedDevices)
		devices, err := reg.List()
		if err != nil {
			fmt.Printf("backend:       reachable, but listing failed (%v)\n", err)
			return nil
		}
		fmt.Printf("backend:       reachable, %d device(s) visible\n", len(devices))
	}

	return nil
}
