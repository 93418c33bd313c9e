// Package main provides the entry point for passage, an OpenVPN client
// for Linux driven from the terminal.
//
// Features:
//   - Host profiles from .ovpn files and provider profiles with server pools
//   - Secure credential storage using the system keyring
//   - Trusted Wi-Fi networks, disconnect on sleep and health checks
//   - An interactive terminal menu
//
// Usage:
//
//	passage <command> [flags]
//
// Environment:
//
//	The application requires OpenVPN to be installed on the system.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/passage/cli"
	"github.com/yllada/passage/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	// Log level is raised or lowered by the CLI once the config is loaded
	if err := common.InitLogger(common.LogConfig{
		Level:       common.LevelInfo,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(cancel)

	app := cli.New(cli.VersionInfo{
		Version:   appVersion,
		BuildTime: buildTime,
		Commit:    commitSHA,
	})
	err := app.Execute(ctx)
	cancel()
	common.CloseLogger()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupSignalHandler cancels the context on the first SIGINT/SIGTERM so a
// running session can disconnect. A second signal exits immediately.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		<-sigChan
		common.LogWarn("Second signal received, exiting")
		os.Exit(130)
	}()
}
