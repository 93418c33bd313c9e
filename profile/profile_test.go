package profile

import (
	"errors"
	"testing"

	"github.com/yllada/passage/common"
)

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name: "valid host",
			profile: Profile{Title: "office", Context: ContextHost,
				Host: &HostSettings{ConfigPath: "/tmp/office.ovpn"}},
		},
		{
			name: "valid provider",
			profile: Profile{Title: "acme", Context: ContextProvider,
				Provider: &ProviderSettings{Name: "acme", PoolID: "us-east", PresetID: "default"}},
		},
		{
			name:    "missing title",
			profile: Profile{Context: ContextHost, Host: &HostSettings{ConfigPath: "/x.ovpn"}},
			wantErr: true,
		},
		{
			name:    "host context with provider payload",
			profile: Profile{Title: "x", Context: ContextHost, Provider: &ProviderSettings{Name: "acme"}},
			wantErr: true,
		},
		{
			name: "both payloads",
			profile: Profile{Title: "x", Context: ContextProvider,
				Provider: &ProviderSettings{Name: "acme"}, Host: &HostSettings{ConfigPath: "/x.ovpn"}},
			wantErr: true,
		},
		{
			name:    "unknown context",
			profile: Profile{Title: "x", Context: "cloud"},
			wantErr: true,
		},
		{
			name: "unknown trust policy",
			profile: Profile{Title: "x", Context: ContextHost, Host: &HostSettings{ConfigPath: "/x.ovpn"},
				TrustedNetworks: TrustedNetworks{Policy: "sometimes"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrInvalidProfile) {
				t.Errorf("Validate() error = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestParseEndpointProtocol(t *testing.T) {
	tests := []struct {
		input   string
		want    EndpointProtocol
		wantErr bool
	}{
		{"UDP:1194", EndpointProtocol{SocketUDP, 1194}, false},
		{"tcp:443", EndpointProtocol{SocketTCP, 443}, false},
		{" udp:53 ", EndpointProtocol{SocketUDP, 53}, false},
		{"UDP", EndpointProtocol{}, true},
		{"ICMP:1", EndpointProtocol{}, true},
		{"UDP:0", EndpointProtocol{}, true},
		{"UDP:70000", EndpointProtocol{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEndpointProtocol(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpointProtocol() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEndpointProtocol() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndpointProtocol_String(t *testing.T) {
	ep := EndpointProtocol{Socket: SocketTCP, Port: 443}
	if ep.String() != "TCP:443" {
		t.Errorf("String() = %q, want TCP:443", ep.String())
	}
	if ep.OpenVPNProto() != "tcp-client" {
		t.Errorf("OpenVPNProto() = %q, want tcp-client", ep.OpenVPNProto())
	}
}

func TestParseKey(t *testing.T) {
	key := Key{Context: ContextHost, ID: "abc"}
	parsed, err := ParseKey(key.String())
	if err != nil || parsed != key {
		t.Errorf("ParseKey(%q) = %v, %v", key.String(), parsed, err)
	}

	for _, bad := range []string{"", "host", "host/", "cloud/abc"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestProfile_CloneIsDeep(t *testing.T) {
	p := &Profile{
		Title:   "acme",
		Context: ContextProvider,
		Provider: &ProviderSettings{
			Name:           "acme",
			ManualProtocol: &EndpointProtocol{SocketUDP, 1194},
		},
		ManualNetwork:   ManualNetwork{DNSServers: []string{"1.1.1.1"}},
		TrustedNetworks: TrustedNetworks{Wifis: map[string]bool{"home": true}},
	}

	c := p.Clone()
	c.Provider.PoolID = "changed"
	c.Provider.ManualProtocol.Port = 443
	c.ManualNetwork.DNSServers[0] = "9.9.9.9"
	c.TrustedNetworks.Wifis["home"] = false

	if p.Provider.PoolID != "" || p.Provider.ManualProtocol.Port != 1194 {
		t.Error("Clone() shares provider settings")
	}
	if p.ManualNetwork.DNSServers[0] != "1.1.1.1" {
		t.Error("Clone() shares DNS servers")
	}
	if !p.TrustedNetworks.Wifis["home"] {
		t.Error("Clone() shares trusted networks")
	}
}

func TestCredentials_IsValid(t *testing.T) {
	if (Credentials{}).IsValid() {
		t.Error("empty credentials should be invalid")
	}
	if (Credentials{Username: "  ", Password: "x"}).IsValid() {
		t.Error("blank username should be invalid")
	}
	if !(Credentials{Username: "alice"}).IsValid() {
		t.Error("username alone should be valid")
	}
}

func TestTrustedNetworks(t *testing.T) {
	tn := TrustedNetworks{
		Policy: common.TrustPolicyDisconnect,
		Wifis:  map[string]bool{"home": true, "cafe": false},
	}
	if !tn.IsTrusted("home") || tn.IsTrusted("cafe") || tn.IsTrusted("") {
		t.Error("IsTrusted() mismatch")
	}
	if !tn.DisconnectsOnTrusted() {
		t.Error("DisconnectsOnTrusted() should be true")
	}
}
