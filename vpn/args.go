package vpn

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// BuildArgs returns the openvpn command line for cfg. credFile is the
// auth-user-pass file, or "" when there are no credentials.
func BuildArgs(cfg *Configuration, credFile string) ([]string, error) {
	if cfg == nil || cfg.Profile == nil {
		return nil, fmt.Errorf("%w: empty configuration", common.ErrInvalidConfig)
	}
	p := cfg.Profile

	var args []string
	switch p.Context {
	case profile.ContextHost:
		if p.Host == nil {
			return nil, fmt.Errorf("%w: missing host settings", common.ErrInvalidProfile)
		}
		args = append(args, "--config", p.Host.ConfigPath)
	case profile.ContextProvider:
		if cfg.Endpoint == nil {
			return nil, fmt.Errorf("%w: provider endpoint not resolved", common.ErrInvalidConfig)
		}
		args = append(args, "--config", cfg.Endpoint.Template)
		args = append(args, remoteArgs(cfg.Endpoint)...)
	default:
		return nil, fmt.Errorf("%w: unknown context %q", common.ErrInvalidProfile, p.Context)
	}

	if credFile != "" {
		args = append(args, "--auth-user-pass", credFile)
	}

	network, err := networkArgs(p.NetworkChoices, p.ManualNetwork)
	if err != nil {
		return nil, err
	}
	args = append(args, network...)

	return append(args, "--verb", "3"), nil
}

func remoteArgs(ep *ProviderEndpoint) []string {
	var args []string
	for _, addr := range ep.Addresses {
		for _, proto := range ep.Protocols {
			args = append(args, "--remote", addr, strconv.Itoa(int(proto.Port)), proto.OpenVPNProto())
		}
	}
	return args
}

func networkArgs(choices profile.NetworkChoices, manual profile.ManualNetwork) ([]string, error) {
	var args []string

	if choices.Gateway == profile.ChoiceManual {
		args = append(args, "--pull-filter", "ignore", "redirect-gateway")
		if flags := redirectFlags(manual.GatewayPolicies); len(flags) > 0 {
			args = append(args, append([]string{"--redirect-gateway"}, flags...)...)
		}
	}

	if choices.DNS == profile.ChoiceManual {
		args = append(args, "--pull-filter", "ignore", "dhcp-option DNS")
		for _, server := range manual.DNSServers {
			ip := net.ParseIP(strings.TrimSpace(server))
			if ip == nil {
				return nil, fmt.Errorf("%w: invalid DNS server %q", common.ErrInvalidConfig, server)
			}
			option := "DNS"
			if ip.To4() == nil {
				option = "DNS6"
			}
			args = append(args, "--dhcp-option", option, ip.String())
		}
		for _, domain := range manual.DNSSearchDomains {
			if domain = strings.TrimSpace(domain); domain != "" {
				args = append(args, "--dhcp-option", "DOMAIN-SEARCH", domain)
			}
		}
	}

	if choices.Proxy == profile.ChoiceManual && manual.ProxyAddress != "" {
		if manual.ProxyPort == 0 {
			return nil, fmt.Errorf("%w: proxy port is required", common.ErrInvalidConfig)
		}
		args = append(args, "--dhcp-option", "PROXY_HTTP", manual.ProxyAddress, strconv.Itoa(int(manual.ProxyPort)))
		if len(manual.ProxyBypassDomains) > 0 {
			args = append(args, append([]string{"--dhcp-option", "PROXY_BYPASS"}, manual.ProxyBypassDomains...)...)
		}
	}

	return args, nil
}

func redirectFlags(policies []string) []string {
	v4 := common.StringInSlice(profile.GatewayIPv4, policies)
	v6 := common.StringInSlice(profile.GatewayIPv6, policies)
	switch {
	case v4 && v6:
		return []string{"def1", "ipv6"}
	case v4:
		return []string{"def1"}
	case v6:
		return []string{"def1", "ipv6", "!ipv4"}
	default:
		return nil
	}
}
