package vpn

import (
	"context"

	"github.com/yllada/passage/profile"
)

// Tunnel controls the system VPN tunnel. Every call returns once the
// request has been issued; status changes arrive through OnStatusChange.
type Tunnel interface {
	// Prepare loads the tunnel's persisted state and calls onReady once
	// the status can be read.
	Prepare(onReady func())
	// Status returns the current status; ok is false until prepared.
	Status() (status Status, ok bool)
	// Bind sets the profile the tunnel acts on.
	Bind(p *profile.Profile)
	// Connect starts (or restarts) the tunnel with cfg.
	Connect(ctx context.Context, cfg *Configuration) error
	// Disconnect stops the tunnel.
	Disconnect(ctx context.Context) error
	// Reinstall applies cfg to an enabled tunnel.
	Reinstall(ctx context.Context, cfg *Configuration) error
	// LastError returns the error that ended the last session, if any.
	LastError() error
	// DataCount returns the bytes received and sent by the running
	// session; ok is false when no count is available.
	DataCount() (in, out uint64, ok bool)
	// EraseDebugLog empties the tunnel debug log.
	EraseDebugLog() error
	// OnStatusChange registers fn for status changes and returns a
	// function that removes it.
	OnStatusChange(fn func(Status)) func()
}

// Preferences are user settings that affect the generated tunnel
// configuration.
type Preferences struct {
	// ResolvesHostname makes the tunnel resolve provider hostnames itself
	// instead of using the addresses shipped with the infrastructure.
	ResolvesHostname bool
	// MasksPrivateData redacts addresses, hostnames and the username from
	// the tunnel debug log.
	MasksPrivateData bool
}

// Configuration is everything a tunnel needs to start a session.
type Configuration struct {
	Profile     *profile.Profile
	Credentials profile.Credentials
	Preferences Preferences
	// Endpoint is set for provider profiles only.
	Endpoint *ProviderEndpoint
}

// ProviderEndpoint is the resolved server side of a provider profile.
type ProviderEndpoint struct {
	// Template is the preset's .ovpn file.
	Template  string
	Addresses []string
	Protocols []profile.EndpointProtocol
}
