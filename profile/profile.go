// Package profile provides the connection profile model and its persistent store.
//
// A Profile is a tagged union: Context says which of the Provider or Host
// payloads is populated, and Validate enforces that exactly that one is set.
// Code that behaves differently per variant switches on Context and treats
// any other value as ErrInvalidProfile.
package profile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/passage/common"
)

// Context identifies the profile variant.
type Context string

const (
	// ContextProvider marks a profile backed by a provider infrastructure.
	ContextProvider Context = "provider"
	// ContextHost marks a profile backed by a user-supplied .ovpn file.
	ContextHost Context = "host"
)

// ParseContext converts a string into a Context.
func ParseContext(s string) (Context, error) {
	switch Context(strings.ToLower(s)) {
	case ContextProvider:
		return ContextProvider, nil
	case ContextHost:
		return ContextHost, nil
	}
	return "", fmt.Errorf("%w: unknown context %q", common.ErrInvalidProfile, s)
}

// Key uniquely identifies a profile.
type Key struct {
	Context Context `json:"context" yaml:"context"`
	ID      string  `json:"id" yaml:"id"`
}

// String returns "context/id", which is also the credential key.
func (k Key) String() string {
	return string(k.Context) + "/" + k.ID
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.ID == ""
}

// ParseKey parses the output of Key.String.
func ParseKey(s string) (Key, error) {
	ctx, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return Key{}, fmt.Errorf("%w: malformed key %q", common.ErrInvalidProfile, s)
	}
	c, err := ParseContext(ctx)
	if err != nil {
		return Key{}, err
	}
	return Key{Context: c, ID: id}, nil
}

// Profile represents a VPN connection profile.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `json:"id" yaml:"id"`
	// Title is a human-readable name for the profile.
	Title string `json:"title" yaml:"title"`
	// Context selects which variant payload is populated.
	Context Context `json:"context" yaml:"context"`
	// Username is the account name; the password lives in the keyring.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`

	Provider *ProviderSettings `json:"provider,omitempty" yaml:"provider,omitempty"`
	Host     *HostSettings     `json:"host,omitempty" yaml:"host,omitempty"`

	NetworkChoices  NetworkChoices  `json:"network_choices" yaml:"network_choices"`
	ManualNetwork   ManualNetwork   `json:"manual_network" yaml:"manual_network"`
	TrustedNetworks TrustedNetworks `json:"trusted_networks" yaml:"trusted_networks"`

	// Created is the timestamp when the profile was created.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is the timestamp when the profile was last connected.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// ProviderSettings is the payload of a provider profile.
type ProviderSettings struct {
	// Name is the provider infrastructure name.
	Name string `json:"name" yaml:"name"`
	// PoolID selects the server pool.
	PoolID string `json:"pool_id" yaml:"pool_id"`
	// PresetID selects the connection preset.
	PresetID string `json:"preset_id" yaml:"preset_id"`
	// ManualAddress overrides the pool addresses when set.
	ManualAddress string `json:"manual_address,omitempty" yaml:"manual_address,omitempty"`
	// ManualProtocol restricts the endpoint to one protocol when set.
	ManualProtocol *EndpointProtocol `json:"manual_protocol,omitempty" yaml:"manual_protocol,omitempty"`
}

// HostSettings is the payload of a host profile.
type HostSettings struct {
	// ConfigPath is the application's copy of the .ovpn file.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// Hostname is the first remote found in the configuration.
	Hostname string `json:"hostname" yaml:"hostname"`
	// Protocols are the endpoint protocols of the configured remotes.
	Protocols []EndpointProtocol `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	// RequiresCredentials is set when the config asks for auth-user-pass.
	RequiresCredentials bool `json:"requires_credentials" yaml:"requires_credentials"`
}

// Key returns the profile key.
func (p *Profile) Key() Key {
	return Key{Context: p.Context, ID: p.ID}
}

// Validate checks that the profile has all required fields and that its
// Context matches the populated variant.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", common.ErrInvalidProfile)
	}

	switch p.Context {
	case ContextProvider:
		if p.Provider == nil || p.Host != nil {
			return fmt.Errorf("%w: provider profile must carry provider settings only", common.ErrInvalidProfile)
		}
		if p.Provider.Name == "" {
			return fmt.Errorf("%w: provider name is required", common.ErrInvalidProfile)
		}
	case ContextHost:
		if p.Host == nil || p.Provider != nil {
			return fmt.Errorf("%w: host profile must carry host settings only", common.ErrInvalidProfile)
		}
		if p.Host.ConfigPath == "" {
			return fmt.Errorf("%w: config path is required", common.ErrInvalidProfile)
		}
	default:
		return fmt.Errorf("%w: unknown context %q", common.ErrInvalidProfile, p.Context)
	}

	if err := p.TrustedNetworks.validate(); err != nil {
		return err
	}
	return nil
}

// Protocols returns the endpoint protocols the profile can connect with.
func (p *Profile) Protocols(infra *Infrastructure) []EndpointProtocol {
	switch p.Context {
	case ContextProvider:
		if infra == nil {
			return nil
		}
		if preset := infra.Preset(p.Provider.PresetID); preset != nil {
			return preset.Protocols
		}
	case ContextHost:
		return p.Host.Protocols
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.Provider != nil {
		prov := *p.Provider
		if prov.ManualProtocol != nil {
			proto := *prov.ManualProtocol
			prov.ManualProtocol = &proto
		}
		c.Provider = &prov
	}
	if p.Host != nil {
		host := *p.Host
		host.Protocols = append([]EndpointProtocol(nil), p.Host.Protocols...)
		c.Host = &host
	}
	c.ManualNetwork = p.ManualNetwork.clone()
	c.TrustedNetworks = p.TrustedNetworks.clone()
	return &c
}

// SocketType is the transport of an endpoint.
type SocketType string

const (
	SocketUDP SocketType = "UDP"
	SocketTCP SocketType = "TCP"
)

// EndpointProtocol is a transport and port pair, written as "UDP:1194".
type EndpointProtocol struct {
	Socket SocketType
	Port   uint16
}

// ParseEndpointProtocol parses "udp:1194" style strings, case-insensitively.
func ParseEndpointProtocol(s string) (EndpointProtocol, error) {
	socket, port, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return EndpointProtocol{}, fmt.Errorf("invalid endpoint protocol %q", s)
	}

	var ep EndpointProtocol
	switch SocketType(strings.ToUpper(socket)) {
	case SocketUDP:
		ep.Socket = SocketUDP
	case SocketTCP:
		ep.Socket = SocketTCP
	default:
		return EndpointProtocol{}, fmt.Errorf("invalid socket type %q", socket)
	}

	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return EndpointProtocol{}, fmt.Errorf("invalid port %q", port)
	}
	ep.Port = uint16(n)
	return ep, nil
}

// String returns "UDP:1194".
func (e EndpointProtocol) String() string {
	return fmt.Sprintf("%s:%d", e.Socket, e.Port)
}

// OpenVPNProto returns the proto argument for an OpenVPN remote.
func (e EndpointProtocol) OpenVPNProto() string {
	if e.Socket == SocketTCP {
		return "tcp-client"
	}
	return "udp"
}

// MarshalText implements encoding.TextMarshaler.
func (e EndpointProtocol) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EndpointProtocol) UnmarshalText(text []byte) error {
	parsed, err := ParseEndpointProtocol(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// NetworkChoice selects between server-pushed and user-defined settings.
type NetworkChoice string

const (
	ChoiceAutomatic NetworkChoice = "automatic"
	ChoiceManual    NetworkChoice = "manual"
)

// NetworkChoices holds the gateway, DNS and proxy choices of a profile.
// The zero value means automatic everywhere.
type NetworkChoices struct {
	Gateway NetworkChoice `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	DNS     NetworkChoice `json:"dns,omitempty" yaml:"dns,omitempty"`
	Proxy   NetworkChoice `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// Gateway policies.
const (
	GatewayIPv4 = "IPv4"
	GatewayIPv6 = "IPv6"
)

// ManualNetwork holds the values applied when a choice is manual.
type ManualNetwork struct {
	GatewayPolicies    []string `json:"gateway_policies,omitempty" yaml:"gateway_policies,omitempty"`
	DNSServers         []string `json:"dns_servers,omitempty" yaml:"dns_servers,omitempty"`
	DNSSearchDomains   []string `json:"dns_search_domains,omitempty" yaml:"dns_search_domains,omitempty"`
	ProxyAddress       string   `json:"proxy_address,omitempty" yaml:"proxy_address,omitempty"`
	ProxyPort          uint16   `json:"proxy_port,omitempty" yaml:"proxy_port,omitempty"`
	ProxyBypassDomains []string `json:"proxy_bypass_domains,omitempty" yaml:"proxy_bypass_domains,omitempty"`
}

func (m ManualNetwork) clone() ManualNetwork {
	m.GatewayPolicies = append([]string(nil), m.GatewayPolicies...)
	m.DNSServers = append([]string(nil), m.DNSServers...)
	m.DNSSearchDomains = append([]string(nil), m.DNSSearchDomains...)
	m.ProxyBypassDomains = append([]string(nil), m.ProxyBypassDomains...)
	return m
}

// TrustedNetworks lists Wi-Fi networks on which the tunnel is not needed.
type TrustedNetworks struct {
	// Policy is common.TrustPolicyIgnore or common.TrustPolicyDisconnect.
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"`
	// Wifis maps SSIDs to their trusted flag.
	Wifis map[string]bool `json:"wifis,omitempty" yaml:"wifis,omitempty"`
}

// IsTrusted reports whether ssid is listed and trusted.
func (t TrustedNetworks) IsTrusted(ssid string) bool {
	return ssid != "" && t.Wifis[ssid]
}

// DisconnectsOnTrusted reports whether the policy tears the tunnel down
// on trusted networks.
func (t TrustedNetworks) DisconnectsOnTrusted() bool {
	return t.Policy == common.TrustPolicyDisconnect
}

func (t TrustedNetworks) validate() error {
	switch t.Policy {
	case "", common.TrustPolicyIgnore, common.TrustPolicyDisconnect:
		return nil
	}
	return fmt.Errorf("%w: unknown trust policy %q", common.ErrInvalidProfile, t.Policy)
}

func (t TrustedNetworks) clone() TrustedNetworks {
	if t.Wifis == nil {
		return t
	}
	wifis := make(map[string]bool, len(t.Wifis))
	for k, v := range t.Wifis {
		wifis[k] = v
	}
	t.Wifis = wifis
	return t
}

// Credentials is a username/password pair.
type Credentials struct {
	Username string
	Password string
}

// IsValid reports whether the credentials can be used to authenticate.
func (c Credentials) IsValid() bool {
	return strings.TrimSpace(c.Username) != ""
}
