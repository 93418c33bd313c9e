// Package netenv reads the host's network environment over the system
// D-Bus: the Wi-Fi network NetworkManager is connected to, and logind's
// sleep notifications.
package netenv

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmService = "org.freedesktop.NetworkManager"
	nmPath    = dbus.ObjectPath("/org/freedesktop/NetworkManager")

	nmIface            = "org.freedesktop.NetworkManager"
	nmActiveIface      = "org.freedesktop.NetworkManager.Connection.Active"
	nmWirelessIface    = "org.freedesktop.NetworkManager.Device.Wireless"
	nmAccessPointIface = "org.freedesktop.NetworkManager.AccessPoint"

	wirelessType = "802-11-wireless"

	login1Service = "org.freedesktop.login1"
	login1Path    = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager = "org.freedesktop.login1.Manager"
)

// Bus wraps a system bus connection.
type Bus struct {
	conn *dbus.Conn
}

// ConnectSystem opens a private connection to the system bus.
func ConnectSystem() (*Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Close closes the connection.
func (b *Bus) Close() error {
	return b.conn.Close()
}

func (b *Bus) property(ctx context.Context, service string, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.conn.Object(service, path).
		CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, name).
		Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("%s.%s: %w", iface, name, err)
	}
	return v, nil
}
