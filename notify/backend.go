package notify

import (
	"github.com/gen2brain/beeep"

	"github.com/yllada/passage/common"
)

// Backend defines the interface for the notification backend.
type Backend interface {
	// Notify sends a standard notification.
	Notify(title, message, icon string) error
	// Alert sends an alert notification.
	Alert(title, message, icon string) error
}

// desktopBackend implements Backend by calling beeep functions directly.
type desktopBackend struct{}

// Notify implements Backend.
func (desktopBackend) Notify(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

// Alert implements Backend.
func (desktopBackend) Alert(title, message, icon string) error {
	return beeep.Alert(title, message, icon)
}

func newDesktopBackend() Backend {
	beeep.AppName = common.AppName
	return desktopBackend{}
}
