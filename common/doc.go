// Package common provides shared constants, types, utilities and interfaces
// used throughout passage.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for secret storage and logging
//   - Logger: Levelled logging with file output and rotation
//   - Observers: Typed callback lists used instead of a global notification bus
//
// # Usage
//
//	timeout := common.ConnectionTimeout
//
//	common.LogInfo("Activating profile %s", title)
//
//	if errors.Is(err, common.ErrProfileNotFound) {
//	    // Handle missing profile
//	}
package common
