// Package systemd reports service state to the systemd supervisor through
// sd_notify. Every call is a no-op when the process was not started by a
// Type=notify unit.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports READY=1 with an optional status line.
func Ready(status string) (bool, error) {
	return notify(daemon.SdNotifyReady, status)
}

// Stopping reports STOPPING=1.
func Stopping(status string) (bool, error) {
	return notify(daemon.SdNotifyStopping, status)
}

// Reloading reports RELOADING=1. Send Ready again once the reload is applied.
func Reloading(status string) (bool, error) {
	return notify(daemon.SdNotifyReloading, status)
}

// Status updates the free-form status line shown by systemctl status.
func Status(status string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+status)
}

func notify(state, status string) (bool, error) {
	if status != "" {
		state = fmt.Sprintf("%s\nSTATUS=%s", state, status)
	}
	return daemon.SdNotify(false, state)
}

// Watchdog pings WATCHDOG=1 at half the unit's WatchdogSec until ctx is
// done. healthy gates each ping; a failing check lets systemd restart us.
// It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context, healthy func(context.Context) error) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil {
				if err := healthy(ctx); err != nil {
					continue
				}
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
