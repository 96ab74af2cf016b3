// Package systemd integrates the daemon with a supervising systemd
// instance: readiness notification once the startup sequence has run, a
// watchdog heartbeat while serving, and a stopping notification during
// shutdown. All calls degrade to no-ops when NOTIFY_SOCKET is unset, so the
// daemon runs unchanged outside systemd.
package systemd

import (
	"context"
	"log/slog"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify state changes to the supervising systemd
// instance, if any.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier returns a Notifier. A nil logger falls back to slog.Default().
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

// Ready signals READY=1. The daemon calls it once its startup sequence
// (coldplug walk included) has run; it does not wait for the hotplug queue
// to drain, so events still in flight may not yet be reflected in the GDL.
func (n *Notifier) Ready() {
	sent, err := sdaemon.SdNotify(false, sdaemon.SdNotifyReady)
	if err != nil {
		n.logger.Warn("sd_notify READY failed", "error", err)
		return
	}
	if sent {
		n.logger.Info("signalled readiness to systemd")
	}
}

// Stopping signals STOPPING=1 at the start of shutdown.
func (n *Notifier) Stopping() {
	if _, err := sdaemon.SdNotify(false, sdaemon.SdNotifyStopping); err != nil {
		n.logger.Warn("sd_notify STOPPING failed", "error", err)
	}
}

// WatchdogLoop sends WATCHDOG=1 at half the configured WatchdogSec interval
// until ctx is cancelled. Returns immediately if no watchdog is configured
// for this service.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	interval, err := sdaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	n.logger.Info("systemd watchdog enabled", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sdaemon.SdNotify(false, sdaemon.SdNotifyWatchdog); err != nil {
				n.logger.Warn("sd_notify WATCHDOG failed", "error", err)
			}
		}
	}
}
