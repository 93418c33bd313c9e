package netenv

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestPrepareForSleep(t *testing.T) {
	tests := []struct {
		name      string
		sig       *dbus.Signal
		wantSleep bool
		wantOK    bool
	}{
		{"nil", nil, false, false},
		{
			name:      "suspending",
			sig:       &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForSleep", Body: []interface{}{true}},
			wantSleep: true,
			wantOK:    true,
		},
		{
			name:   "resuming",
			sig:    &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForSleep", Body: []interface{}{false}},
			wantOK: true,
		},
		{
			name: "other signal",
			sig:  &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForShutdown", Body: []interface{}{true}},
		},
		{
			name: "malformed body",
			sig:  &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForSleep", Body: []interface{}{"yes"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeping, ok := prepareForSleep(tt.sig)
			if sleeping != tt.wantSleep || ok != tt.wantOK {
				t.Errorf("prepareForSleep() = %v, %v; want %v, %v", sleeping, ok, tt.wantSleep, tt.wantOK)
			}
		})
	}
}

func TestDecodeSSID(t *testing.T) {
	if got := decodeSSID([]byte("home\x00\x00")); got != "home" {
		t.Errorf("decodeSSID() = %q, want home", got)
	}
	if got := decodeSSID(nil); got != "" {
		t.Errorf("decodeSSID(nil) = %q", got)
	}
}
