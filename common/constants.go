// Package common provides shared constants, types, and utilities
// used across passage.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "io.passage.app"
	// AppName is the display name of the application.
	AppName = "Passage"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "passage"
)

// File names used by the application.
const (
	ProfilesDBName      = "profiles.db"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "passage.log"
	DebugLogFileName    = "tunnel.log"
	SessionFileName     = "session.json"
	ProvidersDirName    = "providers"
	HostConfigsDirName  = "hosts"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time the CLI waits for a connection.
	ConnectionTimeout = 30 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
	// TrustedPollInterval is how often the current Wi-Fi network is checked.
	TrustedPollInterval = 10 * time.Second
	// DisconnectTimeout bounds how long a tunnel process gets to exit.
	DisconnectTimeout = 5 * time.Second
	// DataCountInterval is how often the exchanged byte counts refresh.
	DataCountInterval = 5 * time.Second
)

// SessionMarker separates tunnel sessions in the debug log.
const SessionMarker = "--- EOF ---"

// Trusted network policies.
const (
	TrustPolicyIgnore     = "ignore"
	TrustPolicyDisconnect = "disconnect"
)
