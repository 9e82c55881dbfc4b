// Package systemd reports service readiness and liveness to systemd when the
// process runs as a Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd that startup finished.
func Ready(logger *slog.Logger) {
	notify(logger, daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func Stopping(logger *slog.Logger) {
	notify(logger, daemon.SdNotifyStopping)
}

// Reloading tells systemd a configuration reload is in progress. Send Ready
// once it is applied.
func Reloading(logger *slog.Logger) {
	notify(logger, daemon.SdNotifyReloading)
}

// Status sets the one-line status shown by systemctl status.
func Status(logger *slog.Logger, status string) {
	notify(logger, "STATUS="+status)
}

func notify(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("systemd notify failed", "state", state, "error", err)
	}
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns at once when WatchdogSec is not set for the unit.
func Watchdog(ctx context.Context, logger *slog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("Invalid systemd watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notify(logger, daemon.SdNotifyWatchdog)
		}
	}
}
