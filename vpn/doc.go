// Package vpn turns user intents into tunnel commands.
//
// The Coordinator is the only entry point the presentation layers use. It
// resolves a profile from the store, binds it to the Tunnel and dispatches
// exactly one of connect, disconnect or reinstall per call. It never waits
// for the tunnel to settle: status changes arrive through Subscribe.
//
// # Toggle
//
// Toggling a profile first makes it the active profile, then:
//
//  1. if the tunnel is not disconnected for that profile, it is disconnected
//  2. if credentials are required but missing, a CredentialRequest is handed
//     to the Prompter and nothing else happens until it is submitted
//  3. otherwise the tunnel is connected
//
// Toggling a profile other than the active one always connects.
//
// # OpenVPN
//
// OpenVPNTunnel runs openvpn as a child process (through pkexec when not
// root). Credentials are passed in a temporary 0600 file that is removed
// when the process exits.
//
// # Watchers
//
// HealthChecker, TrustedWatcher and SleepWatcher run in the background of
// long-lived commands and act through the Coordinator.
//
// # Thread Safety
//
// Coordinator methods are serialized by one mutex. Status subscribers run
// synchronously on the goroutine that changed the status and must not call
// back into the Coordinator.
package vpn
