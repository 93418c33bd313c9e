package vpn

import (
	"testing"

	"github.com/yllada/passage/profile"
)

func TestMasker_Mask(t *testing.T) {
	cfg := &Configuration{
		Profile: &profile.Profile{
			ID: "h1", Title: "office", Context: profile.ContextHost,
			Host: &profile.HostSettings{ConfigPath: "/h1.ovpn", Hostname: "vpn.example.com"},
		},
		Credentials: profile.Credentials{Username: "alice", Password: "pw"},
		Preferences: Preferences{MasksPrivateData: true},
	}
	m := newMasker(cfg)

	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "remote with port",
			line: "TCP/UDP: Preserving recently used remote address: [AF_INET]203.0.113.7:1194",
			want: "TCP/UDP: Preserving recently used remote address: [AF_INET]****:1194",
		},
		{
			name: "pushed addresses",
			line: "net_addr_v4_add: 10.8.0.6/24 dev tun0",
			want: "net_addr_v4_add: ****/24 dev tun0",
		},
		{
			name: "ipv6",
			line: "net_addr_v6_add: 2001:db8::1000/64 dev tun0",
			want: "net_addr_v6_add: ****/64 dev tun0",
		},
		{
			name: "address after a colon",
			line: "peer:198.51.100.2 ok",
			want: "peer:**** ok",
		},
		{
			name: "hostname",
			line: "RESOLVE: Cannot resolve host address: vpn.example.com:1194",
			want: "RESOLVE: Cannot resolve host address: ****:1194",
		},
		{
			name: "username",
			line: "AUTH: user alice rejected",
			want: "AUTH: user **** rejected",
		},
		{
			name: "timestamps and versions are kept",
			line: "2024-05-01 12:34:56 OpenVPN 2.6.8 x86_64",
			want: "2024-05-01 12:34:56 OpenVPN 2.6.8 x86_64",
		},
		{
			name: "sentence end",
			line: "Peer Connection Initiated with 192.0.2.1.",
			want: "Peer Connection Initiated with ****.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.mask(tt.line); got != tt.want {
				t.Errorf("mask() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMasker_Disabled(t *testing.T) {
	cfg := &Configuration{
		Profile:     &profile.Profile{ID: "h1", Context: profile.ContextHost},
		Credentials: profile.Credentials{Username: "alice"},
	}
	m := newMasker(cfg)
	if m != nil {
		t.Fatal("newMasker() should return nil when masking is off")
	}

	line := "alice connected to 203.0.113.7"
	if got := m.mask(line); got != line {
		t.Errorf("nil masker changed %q to %q", line, got)
	}
}
