package vpn

import (
	"context"
	"time"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// SSIDSource reports the Wi-Fi network the machine is on. An empty SSID
// means no wireless connection.
type SSIDSource interface {
	CurrentSSID(ctx context.Context) (string, error)
}

// SleepSource calls fn with true before the machine suspends and with
// false after it resumes, until ctx is done.
type SleepSource interface {
	WatchSleep(ctx context.Context, fn func(sleeping bool)) error
}

// watchTarget is what the watchers need from the Coordinator.
type watchTarget interface {
	Status() (Status, bool)
	Active() (*profile.Profile, bool)
	Disconnect(ctx context.Context) error
}

// TrustedWatcher disconnects the tunnel while the machine is on a Wi-Fi
// network the active profile trusts.
type TrustedWatcher struct {
	target   watchTarget
	source   SSIDSource
	interval time.Duration

	lastSSID string
}

// NewTrustedWatcher creates a watcher polling source every interval.
func NewTrustedWatcher(c *Coordinator, source SSIDSource, interval time.Duration) *TrustedWatcher {
	return newTrustedWatcher(c, source, interval)
}

func newTrustedWatcher(target watchTarget, source SSIDSource, interval time.Duration) *TrustedWatcher {
	if interval <= 0 {
		interval = common.TrustedPollInterval
	}
	return &TrustedWatcher{target: target, source: source, interval: interval}
}

// Run polls until ctx is done.
func (w *TrustedWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *TrustedWatcher) check(ctx context.Context) {
	ssid, err := w.source.CurrentSSID(ctx)
	if err != nil {
		common.LogDebug("Failed to read current Wi-Fi network: %v", err)
		return
	}
	if ssid != w.lastSSID {
		common.LogDebug("Wi-Fi network changed: %q -> %q", w.lastSSID, ssid)
		w.lastSSID = ssid
	}

	p, ok := w.target.Active()
	if !ok || !p.TrustedNetworks.DisconnectsOnTrusted() || !p.TrustedNetworks.IsTrusted(ssid) {
		return
	}
	status, ok := w.target.Status()
	if !ok || !status.IsActive() {
		return
	}

	common.LogInfo("On trusted network %q, disconnecting %s", ssid, p.Title)
	if err := w.target.Disconnect(ctx); err != nil {
		common.LogWarn("Failed to disconnect on trusted network: %v", err)
	}
}
