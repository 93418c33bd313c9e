package vpn

import (
	"context"
	"errors"

	"github.com/yllada/passage/common"
)

// SleepWatcher disconnects the tunnel when the machine suspends.
type SleepWatcher struct {
	target  watchTarget
	source  SleepSource
	enabled func() bool
}

// NewSleepWatcher creates a watcher. enabled is consulted on every suspend
// so that the setting can change while running.
func NewSleepWatcher(c *Coordinator, source SleepSource, enabled func() bool) *SleepWatcher {
	return &SleepWatcher{target: c, source: source, enabled: enabled}
}

// Run watches sleep signals until ctx is done.
func (w *SleepWatcher) Run(ctx context.Context) error {
	err := w.source.WatchSleep(ctx, func(sleeping bool) {
		w.handle(ctx, sleeping)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *SleepWatcher) handle(ctx context.Context, sleeping bool) {
	if !sleeping {
		common.LogDebug("Resumed from sleep")
		return
	}
	if w.enabled != nil && !w.enabled() {
		return
	}
	status, ok := w.target.Status()
	if !ok || status == StatusDisconnected {
		return
	}

	common.LogInfo("Suspending, disconnecting tunnel")
	if err := w.target.Disconnect(ctx); err != nil {
		common.LogWarn("Failed to disconnect before sleep: %v", err)
	}
}
