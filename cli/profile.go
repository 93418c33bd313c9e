package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// ProfileInfo represents a profile in list output.
type ProfileInfo struct {
	Key      string     `json:"key"`
	Title    string     `json:"title"`
	Context  string     `json:"context"`
	Endpoint string     `json:"endpoint,omitempty"`
	Username string     `json:"username,omitempty"`
	Active   bool       `json:"active"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

// ProfileListOutput represents profile list output for JSON.
type ProfileListOutput struct {
	Active   string        `json:"active,omitempty"`
	Profiles []ProfileInfo `json:"profiles"`
}

func newProfileInfo(p *profile.Profile, active bool) ProfileInfo {
	info := ProfileInfo{
		Key:      p.Key().String(),
		Title:    p.Title,
		Context:  string(p.Context),
		Endpoint: endpointOf(p),
		Username: p.Username,
		Active:   active,
	}
	if !p.LastUsed.IsZero() {
		lastUsed := p.LastUsed
		info.LastUsed = &lastUsed
	}
	return info
}

// endpointOf describes where a profile connects to.
func endpointOf(p *profile.Profile) string {
	switch p.Context {
	case profile.ContextHost:
		return p.Host.Hostname
	case profile.ContextProvider:
		s := p.Provider.Name + "/" + p.Provider.PoolID
		if p.Provider.ManualProtocol != nil {
			s += " (" + p.Provider.ManualProtocol.String() + ")"
		}
		return s
	}
	return ""
}

// newProfileCmd creates the profile command group.
func (cli *CLI) newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"profiles"},
		Short:   "Manage connection profiles",
		Long: `Manage host and provider connection profiles.

Profiles are referred to by title, id, id prefix or "context/id" key.

Examples:
  # List all profiles
  passage profile list

  # Add a profile from an OpenVPN configuration
  passage profile add-host ~/Downloads/office.ovpn --title office --username alice

  # Add a provider profile
  passage profile add-provider acme --title acme

  # Make a profile the active one
  passage profile use office`,
	}

	cmd.AddCommand(
		cli.newProfileListCmd(),
		cli.newProfileShowCmd(),
		cli.newProfileAddHostCmd(),
		cli.newProfileAddProviderCmd(),
		cli.newProfileRenameCmd(),
		cli.newProfileRemoveCmd(),
		cli.newProfileUseCmd(),
		cli.newProfileNetworkCmd(),
		cli.newProfileTrustCmd(),
		cli.newProfileExportCmd(),
		cli.newProfileImportCmd(),
	)

	return cmd
}

// findProfile opens the store and resolves ref.
func (cli *CLI) findProfile(ref string) (*profile.Store, *profile.Profile, error) {
	store, err := cli.profiles()
	if err != nil {
		return nil, nil, err
	}
	p, err := store.Find(ref)
	if err != nil {
		return nil, nil, err
	}
	return store, p, nil
}

// newProfileListCmd creates the profile list command.
func (cli *CLI) newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cli.profiles()
			if err != nil {
				return err
			}
			profiles, err := store.List()
			if err != nil {
				return err
			}

			out := ProfileListOutput{Profiles: []ProfileInfo{}}
			for _, p := range profiles {
				active := store.IsActive(p.Key())
				if active {
					out.Active = p.Key().String()
				}
				out.Profiles = append(out.Profiles, newProfileInfo(p, active))
			}
			return cli.printer(cmd).print(out, func(w io.Writer) {
				printProfileList(w, out)
			})
		},
	}
}

func printProfileList(w io.Writer, out ProfileListOutput) {
	if len(out.Profiles) == 0 {
		fmt.Fprintln(w, "No profiles configured.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Add a profile with: passage profile add-host <config.ovpn>")
		return
	}

	rows := make([][]string, 0, len(out.Profiles))
	for _, info := range out.Profiles {
		_, id, _ := strings.Cut(info.Key, "/")
		lastUsed := "never"
		if info.LastUsed != nil {
			lastUsed = info.LastUsed.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			marked(info.Active, common.ShortID(id)), info.Title, info.Context, info.Endpoint, lastUsed,
		})
	}
	table(w, []string{"ID", "TITLE", "TYPE", "ENDPOINT", "LAST USED"}, rows)

	if out.Active != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "* = active profile")
	}
}

// newProfileShowCmd creates the profile show command.
func (cli *CLI) newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Show the settings of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}
			return cli.printer(cmd).print(p, func(w io.Writer) {
				printProfile(w, p, store.IsActive(p.Key()))
			})
		},
	}
}

func printProfile(w io.Writer, p *profile.Profile, active bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Title:\t%s\n", p.Title)
	fmt.Fprintf(tw, "Key:\t%s\n", p.Key())
	fmt.Fprintf(tw, "Active:\t%t\n", active)
	if p.Username != "" {
		fmt.Fprintf(tw, "Username:\t%s\n", p.Username)
	}

	switch p.Context {
	case profile.ContextHost:
		fmt.Fprintf(tw, "Config:\t%s\n", p.Host.ConfigPath)
		fmt.Fprintf(tw, "Hostname:\t%s\n", p.Host.Hostname)
		protocols := make([]string, 0, len(p.Host.Protocols))
		for _, proto := range p.Host.Protocols {
			protocols = append(protocols, proto.String())
		}
		fmt.Fprintf(tw, "Protocols:\t%s\n", strings.Join(protocols, ", "))
	case profile.ContextProvider:
		fmt.Fprintf(tw, "Provider:\t%s\n", p.Provider.Name)
		fmt.Fprintf(tw, "Pool:\t%s\n", p.Provider.PoolID)
		fmt.Fprintf(tw, "Preset:\t%s\n", p.Provider.PresetID)
		if p.Provider.ManualProtocol != nil {
			fmt.Fprintf(tw, "Protocol:\t%s\n", p.Provider.ManualProtocol)
		}
	}

	if p.NetworkChoices.DNS == profile.ChoiceManual {
		fmt.Fprintf(tw, "DNS:\t%s\n", strings.Join(p.ManualNetwork.DNSServers, ", "))
	}
	if p.NetworkChoices.Gateway == profile.ChoiceManual {
		fmt.Fprintf(tw, "Gateway:\t%s\n", strings.Join(p.ManualNetwork.GatewayPolicies, ", "))
	}
	if p.NetworkChoices.Proxy == profile.ChoiceManual {
		fmt.Fprintf(tw, "Proxy:\t%s:%d\n", p.ManualNetwork.ProxyAddress, p.ManualNetwork.ProxyPort)
	}
	if len(p.TrustedNetworks.Wifis) > 0 {
		fmt.Fprintf(tw, "Trusted:\t%s (%s)\n", strings.Join(trustedSSIDs(p.TrustedNetworks), ", "), p.TrustedNetworks.Policy)
	}
	_ = tw.Flush()
}

func trustedSSIDs(t profile.TrustedNetworks) []string {
	var ssids []string
	for ssid, trusted := range t.Wifis {
		if trusted {
			ssids = append(ssids, ssid)
		}
	}
	sort.Strings(ssids)
	return ssids
}

// newProfileAddHostCmd creates the profile add-host command.
func (cli *CLI) newProfileAddHostCmd() *cobra.Command {
	var (
		title       string
		username    string
		askPassword bool
	)

	cmd := &cobra.Command{
		Use:   "add-host <config.ovpn>",
		Short: "Add a profile from an OpenVPN configuration file",
		Long: `Add a host profile. The configuration file is copied into
passage's configuration directory.

Examples:
  # Title defaults to the file name
  passage profile add-host office.ovpn

  # Store credentials right away
  passage profile add-host office.ovpn --username alice --ask-password`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cli.profiles()
			if err != nil {
				return err
			}
			p, err := profile.NewHostProfile(title, args[0])
			if err != nil {
				return err
			}
			creds, err := cli.initialCredentials(cmd, p.Title, username, askPassword)
			if err != nil {
				return err
			}
			if err := store.Add(p, creds); err != nil {
				return err
			}
			return cli.printAdded(cmd, store, p)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Profile title (default: file name)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username for auth-user-pass")
	cmd.Flags().BoolVarP(&askPassword, "ask-password", "P", false, "Prompt for the password and store it")

	return cmd
}

// newProfileAddProviderCmd creates the profile add-provider command.
func (cli *CLI) newProfileAddProviderCmd() *cobra.Command {
	var (
		title       string
		username    string
		askPassword bool
	)

	cmd := &cobra.Command{
		Use:   "add-provider <provider>",
		Short: "Add a profile for a provider infrastructure",
		Long: `Add a provider profile. The provider is read from
~/.config/passage/providers/<provider>.yaml and the profile starts on the
provider's default pool and preset.

Examples:
  passage profile add-provider acme --title "acme us"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cli.profiles()
			if err != nil {
				return err
			}
			if title == "" {
				title = args[0]
			}
			p, err := store.NewProviderProfile(title, args[0])
			if err != nil {
				return err
			}
			if username == "" {
				if infra, err := store.Infrastructure(args[0]); err == nil {
					username = infra.Defaults.Username
				}
			}
			creds, err := cli.initialCredentials(cmd, p.Title, username, askPassword)
			if err != nil {
				return err
			}
			if err := store.Add(p, creds); err != nil {
				return err
			}
			return cli.printAdded(cmd, store, p)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Profile title (default: provider name)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().BoolVarP(&askPassword, "ask-password", "P", false, "Prompt for the password and store it")

	return cmd
}

// initialCredentials builds the credentials stored with a new profile.
func (cli *CLI) initialCredentials(cmd *cobra.Command, title, username string, askPassword bool) (profile.Credentials, error) {
	creds := profile.Credentials{Username: username}
	if !askPassword {
		return creds, nil
	}
	return cli.promptCredentials(cmd, title, creds)
}

func (cli *CLI) printAdded(cmd *cobra.Command, store *profile.Store, p *profile.Profile) error {
	info := newProfileInfo(p, store.IsActive(p.Key()))
	return cli.printer(cmd).print(info, func(w io.Writer) {
		fmt.Fprintf(w, "Added profile %s (%s)\n", p.Title, p.Key())
		if info.Active {
			fmt.Fprintln(w, "It is now the active profile.")
		}
	})
}

// newProfileRenameCmd creates the profile rename command.
func (cli *CLI) newProfileRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <profile> <title>",
		Short: "Rename a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}
			if err := store.Rename(p.Key(), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", p.Title, strings.TrimSpace(args[1]))
			return nil
		},
	}
}

// newProfileRemoveCmd creates the profile remove command.
func (cli *CLI) newProfileRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <profile>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a profile and its stored password",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}
			if err := store.Remove(p.Key()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed profile %s\n", p.Title)
			return nil
		},
	}
}

// newProfileUseCmd creates the profile use command.
func (cli *CLI) newProfileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <profile>",
		Short: "Make a profile the active one without connecting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}
			if err := store.Activate(p.Key()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active profile: %s\n", p.Title)
			return nil
		},
	}
}

// newProfileNetworkCmd creates the profile network command.
func (cli *CLI) newProfileNetworkCmd() *cobra.Command {
	var (
		gateway   []string
		dns       []string
		search    []string
		proxy     string
		bypass    []string
		automatic []string
	)

	cmd := &cobra.Command{
		Use:   "network <profile>",
		Short: "Override the gateway, DNS or proxy pushed by the server",
		Long: `Set manual network settings for a profile. Settings that are not
given keep their current value.

Examples:
  # Route IPv4 and IPv6 through the tunnel
  passage profile network office --gateway IPv4,IPv6

  # Use custom DNS servers
  passage profile network office --dns 1.1.1.1,2606:4700:4700::1111 --search-domain corp.example

  # Go back to what the server pushes
  passage profile network office --automatic dns,gateway,proxy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("gateway") {
				for _, policy := range gateway {
					if policy != profile.GatewayIPv4 && policy != profile.GatewayIPv6 {
						return fmt.Errorf("invalid gateway policy %q: must be IPv4 or IPv6", policy)
					}
				}
				p.NetworkChoices.Gateway = profile.ChoiceManual
				p.ManualNetwork.GatewayPolicies = gateway
			}
			if flags.Changed("dns") {
				for _, server := range dns {
					if net.ParseIP(server) == nil {
						return fmt.Errorf("invalid DNS server %q", server)
					}
				}
				p.NetworkChoices.DNS = profile.ChoiceManual
				p.ManualNetwork.DNSServers = dns
			}
			if flags.Changed("search-domain") {
				p.ManualNetwork.DNSSearchDomains = search
			}
			if flags.Changed("proxy") {
				host, port, err := splitProxy(proxy)
				if err != nil {
					return err
				}
				p.NetworkChoices.Proxy = profile.ChoiceManual
				p.ManualNetwork.ProxyAddress = host
				p.ManualNetwork.ProxyPort = port
			}
			if flags.Changed("proxy-bypass") {
				p.ManualNetwork.ProxyBypassDomains = bypass
			}
			for _, name := range automatic {
				switch strings.ToLower(name) {
				case "gateway":
					p.NetworkChoices.Gateway = profile.ChoiceAutomatic
				case "dns":
					p.NetworkChoices.DNS = profile.ChoiceAutomatic
				case "proxy":
					p.NetworkChoices.Proxy = profile.ChoiceAutomatic
				default:
					return fmt.Errorf("unknown network setting %q", name)
				}
			}

			if err := store.Update(p); err != nil {
				return err
			}
			return cli.printer(cmd).print(p, func(w io.Writer) {
				printProfile(w, p, store.IsActive(p.Key()))
			})
		},
	}

	cmd.Flags().StringSliceVar(&gateway, "gateway", nil, "Gateway policies (IPv4, IPv6)")
	cmd.Flags().StringSliceVar(&dns, "dns", nil, "DNS servers")
	cmd.Flags().StringSliceVar(&search, "search-domain", nil, "DNS search domains")
	cmd.Flags().StringVar(&proxy, "proxy", "", "HTTP proxy as host:port")
	cmd.Flags().StringSliceVar(&bypass, "proxy-bypass", nil, "Domains that bypass the proxy")
	cmd.Flags().StringSliceVar(&automatic, "automatic", nil, "Settings to take from the server (gateway, dns, proxy)")

	return cmd
}

func splitProxy(s string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid proxy %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 || host == "" {
		return "", 0, fmt.Errorf("invalid proxy %q", s)
	}
	return host, uint16(port), nil
}

// newProfileTrustCmd creates the profile trust command.
func (cli *CLI) newProfileTrustCmd() *cobra.Command {
	var (
		policy string
		add    []string
		remove []string
	)

	cmd := &cobra.Command{
		Use:   "trust <profile>",
		Short: "Manage the trusted Wi-Fi networks of a profile",
		Long: `Manage trusted Wi-Fi networks. With the disconnect policy, a running
session disconnects while the computer is on a trusted network.

Examples:
  passage profile trust office --policy disconnect --add HomeWifi`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("policy") {
				p.TrustedNetworks.Policy = policy
			}
			if p.TrustedNetworks.Wifis == nil {
				p.TrustedNetworks.Wifis = make(map[string]bool)
			}
			for _, ssid := range add {
				p.TrustedNetworks.Wifis[ssid] = true
			}
			for _, ssid := range remove {
				delete(p.TrustedNetworks.Wifis, ssid)
			}

			if err := store.Update(p); err != nil {
				return err
			}
			return cli.printer(cmd).print(p.TrustedNetworks, func(w io.Writer) {
				policy := p.TrustedNetworks.Policy
				if policy == "" {
					policy = common.TrustPolicyIgnore
				}
				fmt.Fprintf(w, "Policy: %s\n", policy)
				for _, ssid := range trustedSSIDs(p.TrustedNetworks) {
					fmt.Fprintf(w, "  %s\n", ssid)
				}
			})
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "", "What to do on trusted networks (ignore, disconnect)")
	cmd.Flags().StringSliceVar(&add, "add", nil, "SSIDs to trust")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "SSIDs to forget")

	return cmd
}

// newProfileExportCmd creates the profile export command.
func (cli *CLI) newProfileExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all profiles as YAML",
		Long: `Export all profiles as YAML, to a file or to stdout. Host
configurations are embedded; passwords are never exported.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cli.profiles()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return store.Export(cmd.OutOrStdout())
			}

			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			if err := store.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported profiles to %s\n", args[0])
			return nil
		},
	}
}

// newProfileImportCmd creates the profile import command.
func (cli *CLI) newProfileImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import profiles exported with 'passage profile export'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cli.profiles()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := store.Import(f)
			if err != nil {
				return err
			}
			result := struct {
				Imported int `json:"imported"`
			}{n}
			return cli.printer(cmd).print(result, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d profile(s)\n", n)
			})
		},
	}
}
