package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/claim"
	"github.com/usbipd-go/usbipd/internal/config"
	"github.com/usbipd-go/usbipd/internal/configpaths"
	"github.com/usbipd-go/usbipd/internal/log"
	"github.com/usbipd-go/usbipd/registry"
	"github.com/usbipd-go/usbipd/server"
)

// DaemonCmd implements `usbipd daemon` (spec.md §6): runs the Listener
// until interrupted, reconciling any claim state persisted by a prior run
// before accepting connections and persisting it again on shutdown.
type DaemonCmd struct {
	ShutdownGrace time.Duration `help:"Grace period for in-flight connections to drain on shutdown" default:"5s" env:"USBIPD_SHUTDOWN_GRACE"`
}

func (d *DaemonCmd) Run(cli *CLI, logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
		return fmt.Errorf("daemon: open backend: %w", err)
	}
	defer func() { _ = be.Close() }()

	reg := registry.New(be, cfg.AllowedDevices)
	arb := claim.New(be)

	configDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("daemon: resolve config dir: %w", err)
	}
	statePath := config.ClaimStatePath(configDir)
	persisted, err := config.LoadClaimState(statePath)
	if err != nil {
		logger.Warn("discarding unreadable claim state", "path", statePath, "error", err)
	} else if len(persisted) > 0 {
		arb.Reconcile(persisted)
		logger.Info("reconciled persisted claims", "count", len(persisted))
	}

	srvCfg := server.Config{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		MaxConnections:    cfg.MaxConnections,
		ConnectionTimeout: cfg.ConnectionTimeout,
		URBTimeoutMs:      server.DefaultConfig().URBTimeoutMs,
	}
	srv := server.New(srvCfg, reg, arb, be, logger, rawLogger)

	logger.Info("starting usbipd", "addr", srvCfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested, draining connections", "grace", d.ShutdownGrace)
		if err := srv.Shutdown(d.ShutdownGrace); err != nil {
			logger.Warn("shutdown did not fully drain", "error", err)
		}
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("listener exited", "error", err)
		}
	}

	if err := config.SaveClaimState(statePath, toPersistedClaims(arb.Snapshot())); err != nil {
		logger.Warn("failed to persist claim state", "error", err)
	}
	return nil
}

func toPersistedClaims(entries []claim.Entry) []claim.PersistedClaim {
	out := make([]claim.PersistedClaim, 0, len(entries))
	for _, e := range entries {
		out = append(out, claim.PersistedClaim{
			DeviceKey: e.DeviceKey,
			SessionID: e.SessionID,
			ClaimedAt: e.ClaimedAt,
		})
	}
	return out
}
