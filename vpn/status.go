package vpn

import (
	"github.com/yllada/passage/profile"
)

// Status represents the state of the tunnel.
type Status int

const (
	// StatusDisconnected indicates no active connection.
	StatusDisconnected Status = iota
	// StatusConnecting indicates a connection is being established.
	StatusConnecting
	// StatusConnected indicates an active, established connection.
	StatusConnected
	// StatusDisconnecting indicates the connection is being terminated.
	StatusDisconnecting
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// Name returns the lower-case identifier used in machine-readable output.
func (s Status) Name() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// IsActive reports whether the tunnel is connecting or connected.
func (s Status) IsActive() bool {
	return s == StatusConnecting || s == StatusConnected
}

// StatusEvent is published by the Coordinator when the tunnel status changes.
type StatusEvent struct {
	// Key is the active profile, zero when none is active.
	Key profile.Key
	// Title is the title of the active profile.
	Title  string
	Status Status
	// Err is the tunnel's last error, if any.
	Err error
}
