// Package notify sends desktop notifications for connection events.
package notify

import (
	"sync"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/vpn"
)

// Icons from the freedesktop icon theme.
const (
	iconConnected    = "network-vpn"
	iconDisconnected = "network-vpn-disconnected"
	iconError        = "network-vpn-error"
)

// Option configures a Notifier.
type Option func(*Notifier)

// WithBackend sets a custom notification backend (for testing).
func WithBackend(backend Backend) Option {
	return func(n *Notifier) {
		n.backend = backend
	}
}

// Notifier turns status events into notifications. Register Handle with
// Coordinator.Subscribe.
type Notifier struct {
	enabled func() bool
	backend Backend

	mu   sync.Mutex
	last vpn.Status
	// lastErr avoids alerting twice for the same failure.
	lastErr error
}

// New creates a Notifier. enabled is checked on every event so that the
// show_notifications setting applies without a restart.
func New(enabled func() bool, opts ...Option) *Notifier {
	n := &Notifier{
		enabled: enabled,
		backend: newDesktopBackend(),
		last:    vpn.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle notifies on connection, disconnection and failure.
func (n *Notifier) Handle(ev vpn.StatusEvent) {
	n.mu.Lock()
	previous := n.last
	n.last = ev.Status
	fresh := ev.Err != nil && ev.Err != n.lastErr
	if ev.Status == vpn.StatusConnecting {
		n.lastErr = nil
	} else if ev.Err != nil {
		n.lastErr = ev.Err
	}
	n.mu.Unlock()

	if n.enabled != nil && !n.enabled() {
		return
	}

	var err error
	switch {
	case ev.Status == vpn.StatusDisconnected && fresh:
		err = n.backend.Alert("Connection Error", ev.Title+": "+ev.Err.Error(), iconError)
	case ev.Status == vpn.StatusConnected && previous != vpn.StatusConnected:
		err = n.backend.Notify("VPN Connected", "Connected to "+ev.Title, iconConnected)
	case ev.Status == vpn.StatusDisconnected && previous != vpn.StatusDisconnected:
		err = n.backend.Notify("VPN Disconnected", "Disconnected from "+ev.Title, iconDisconnected)
	}
	if err != nil {
		common.LogDebug("Error showing notification: %v", err)
	}
}
