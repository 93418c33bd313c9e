package netenv

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// CurrentSSID returns the SSID of the primary connection, or "" when the
// primary connection is not Wi-Fi.
func (b *Bus) CurrentSSID(ctx context.Context) (string, error) {
	v, err := b.property(ctx, nmService, nmPath, nmIface, "PrimaryConnection")
	if err != nil {
		return "", err
	}
	active, ok := v.Value().(dbus.ObjectPath)
	if !ok || !active.IsValid() || active == "/" {
		return "", nil
	}

	v, err = b.property(ctx, nmService, active, nmActiveIface, "Type")
	if err != nil {
		return "", err
	}
	if typ, _ := v.Value().(string); typ != wirelessType {
		return "", nil
	}

	v, err = b.property(ctx, nmService, active, nmActiveIface, "Devices")
	if err != nil {
		return "", err
	}
	devices, _ := v.Value().([]dbus.ObjectPath)
	for _, dev := range devices {
		apv, err := b.property(ctx, nmService, dev, nmWirelessIface, "ActiveAccessPoint")
		if err != nil {
			continue
		}
		ap, ok := apv.Value().(dbus.ObjectPath)
		if !ok || ap == "/" {
			continue
		}
		ssidv, err := b.property(ctx, nmService, ap, nmAccessPointIface, "Ssid")
		if err != nil {
			return "", err
		}
		raw, _ := ssidv.Value().([]byte)
		return decodeSSID(raw), nil
	}

	// No access point reported; fall back to the connection name.
	v, err = b.property(ctx, nmService, active, nmActiveIface, "Id")
	if err != nil {
		return "", fmt.Errorf("failed to read connection id: %w", err)
	}
	id, _ := v.Value().(string)
	return id, nil
}

func decodeSSID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00")
}
