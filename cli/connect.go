package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
	"github.com/yllada/passage/vpn"
)

// coordinator returns a coordinator whose tunnel is never prepared.
// Settings changes made through it are persisted but not applied.
func (cli *CLI) coordinator() (*vpn.Coordinator, error) {
	store, err := cli.profiles()
	if err != nil {
		return nil, err
	}
	cfg := cli.Config
	tunnel := vpn.NewOpenVPNTunnel(vpn.OpenVPNOptions{
		DebugLog: filepath.Join(cli.dir, common.DebugLogFileName),
	})
	return vpn.NewCoordinator(store, tunnel, coordinatorOptions(cfg, nil)), nil
}

// runningSession fails when another passage process owns the tunnel.
func (cli *CLI) runningSession() error {
	st, err := readState(filepath.Join(cli.dir, common.SessionFileName))
	if err != nil {
		return err
	}
	if st != nil {
		return fmt.Errorf("a session is already running (PID %d, %s %s)", st.PID, st.Title, st.Status)
	}
	return nil
}

// newToggleCmd creates the toggle command.
func (cli *CLI) newToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "toggle [profile]",
		Aliases: []string{"connect", "up"},
		Short:   "Connect a profile and keep the tunnel up",
		Long: `Activate a profile and connect it. The tunnel stays up until the
command is interrupted with Ctrl+C or the connection ends.

Missing credentials are asked for on the terminal.

Examples:
  # Connect the active profile
  passage toggle

  # Switch to another profile and connect it
  passage toggle office`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.runningSession(); err != nil {
				return err
			}
			key, err := cli.profileKey(args)
			if err != nil {
				return err
			}
			return cli.hostCommand(cmd, func(ctx context.Context, s *session) error {
				return s.coord.Toggle(ctx, key)
			})
		},
	}
}

// profileKey resolves the profile argument, defaulting to the active one.
func (cli *CLI) profileKey(args []string) (profile.Key, error) {
	if len(args) > 0 {
		_, p, err := cli.findProfile(args[0])
		if err != nil {
			return profile.Key{}, err
		}
		return p.Key(), nil
	}
	store, err := cli.profiles()
	if err != nil {
		return profile.Key{}, err
	}
	p, ok := store.Active()
	if !ok {
		return profile.Key{}, common.ErrNoActiveProfile
	}
	return p.Key(), nil
}

// newReconnectCmd creates the reconnect command.
func (cli *CLI) newReconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Connect the active profile, restarting any running tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.runningSession(); err != nil {
				return err
			}
			return cli.hostCommand(cmd, func(ctx context.Context, s *session) error {
				return s.coord.Reconnect(ctx)
			})
		},
	}
}

// StatusOutput represents status output for JSON.
type StatusOutput struct {
	Profile  string     `json:"profile,omitempty"`
	Key      string     `json:"key,omitempty"`
	Status   string     `json:"status"`
	Error    string     `json:"error,omitempty"`
	PID      int        `json:"pid,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	BytesIn  uint64     `json:"bytes_in,omitempty"`
	BytesOut uint64     `json:"bytes_out,omitempty"`
}

// newStatusCmd creates the status command.
func (cli *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cli.status()
			if err != nil {
				return err
			}
			return cli.printer(cmd).print(out, func(w io.Writer) {
				printStatus(w, out)
			})
		},
	}
}

func (cli *CLI) status() (StatusOutput, error) {
	st, err := readState(filepath.Join(cli.dir, common.SessionFileName))
	if err != nil {
		return StatusOutput{}, err
	}
	if st != nil {
		since := st.Since
		return StatusOutput{
			Profile:  st.Title,
			Key:      st.Key,
			Status:   st.Status,
			Error:    st.Error,
			PID:      st.PID,
			Since:    &since,
			BytesIn:  st.BytesIn,
			BytesOut: st.BytesOut,
		}, nil
	}

	out := StatusOutput{Status: vpn.StatusDisconnected.Name()}
	store, err := cli.profiles()
	if err != nil {
		return out, err
	}
	if p, ok := store.Active(); ok {
		out.Profile = p.Title
		out.Key = p.Key().String()
	}
	return out, nil
}

func printStatus(w io.Writer, out StatusOutput) {
	if out.Profile == "" {
		fmt.Fprintln(w, "No active profile.")
		return
	}
	line := fmt.Sprintf("%s: %s", out.Profile, out.Status)
	if out.Since != nil && out.Status == vpn.StatusConnected.Name() {
		line += fmt.Sprintf(" for %s", formatDuration(time.Since(*out.Since)))
	}
	fmt.Fprintln(w, line)
	if out.Status == vpn.StatusConnected.Name() {
		fmt.Fprintf(w, "Exchanged: %s\n", formatDataCount(out.BytesIn, out.BytesOut))
	}
	if out.Error != "" {
		fmt.Fprintf(w, "Last error: %s\n", out.Error)
	}
	if out.PID != 0 {
		fmt.Fprintf(w, "Session PID: %d\n", out.PID)
	}
}

// formatDataCount formats received and sent bytes as "↓in / ↑out".
func formatDataCount(in, out uint64) string {
	return fmt.Sprintf("↓%s / ↑%s", humanize.Bytes(in), humanize.Bytes(out))
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PoolInfo represents a server pool in pool list output.
type PoolInfo struct {
	ID       string `json:"id"`
	Group    string `json:"group"`
	Hostname string `json:"hostname"`
	Selected bool   `json:"selected"`
}

// newPoolCmd creates the pool command group.
func (cli *CLI) newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Choose the server pool of the active provider profile",
		Long: `Choose the server pool of the active provider profile.

Examples:
  # List the pools of the provider
  passage pool list

  # Use a pool for the next connection
  passage pool use us-1

  # Connect to a random pool in a country or area
  passage pool switch US/east`,
	}

	cmd.AddCommand(
		cli.newPoolListCmd(),
		cli.newPoolUseCmd(),
		cli.newPoolSwitchCmd(),
	)

	return cmd
}

// activeProvider returns the active provider profile and its infrastructure.
func (cli *CLI) activeProvider() (*profile.Profile, *profile.Infrastructure, error) {
	store, err := cli.profiles()
	if err != nil {
		return nil, nil, err
	}
	p, ok := store.Active()
	if !ok {
		return nil, nil, common.ErrNoActiveProfile
	}
	if p.Context != profile.ContextProvider {
		return nil, nil, fmt.Errorf("%w: %s is a %s profile", common.ErrWrongContext, p.Title, p.Context)
	}
	infra, err := store.Infrastructure(p.Provider.Name)
	if err != nil {
		return nil, nil, err
	}
	return p, infra, nil
}

func (cli *CLI) newPoolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the pools of the active provider profile",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, infra, err := cli.activeProvider()
			if err != nil {
				return err
			}

			pools := []PoolInfo{}
			for _, g := range infra.Groups() {
				for _, pool := range g.Pools {
					pools = append(pools, PoolInfo{
						ID:       pool.ID,
						Group:    g.Key(),
						Hostname: pool.Hostname,
						Selected: pool.ID == p.Provider.PoolID,
					})
				}
			}
			return cli.printer(cmd).print(pools, func(w io.Writer) {
				rows := make([][]string, 0, len(pools))
				for _, pool := range pools {
					rows = append(rows, []string{marked(pool.Selected, pool.ID), pool.Group, pool.Hostname})
				}
				table(w, []string{"POOL", "GROUP", "HOSTNAME"}, rows)
			})
		},
	}
}

func (cli *CLI) newPoolUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <pool-id>",
		Short: "Select the pool used by the next connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := cli.coordinator()
			if err != nil {
				return err
			}
			if err := coord.SelectPool(cmd.Context(), args[0]); err != nil {
				return err
			}
			p, _ := coord.Active()
			fmt.Fprintf(cmd.OutOrStdout(), "%s now uses pool %s (preset %s)\n", p.Title, p.Provider.PoolID, p.Provider.PresetID)
			return nil
		},
	}
}

func (cli *CLI) newPoolSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <group>",
		Short: "Connect to a random pool of a country or area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.runningSession(); err != nil {
				return err
			}
			return cli.hostCommand(cmd, func(ctx context.Context, s *session) error {
				if err := s.coord.SwitchPool(ctx, args[0]); err != nil {
					return err
				}
				if p, ok := s.coord.Active(); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Using pool %s\n", p.Provider.PoolID)
				}
				return nil
			})
		},
	}
}

// newProtocolCmd creates the protocol command.
func (cli *CLI) newProtocolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocol <UDP:port|TCP:port|auto>",
		Short: "Pin the endpoint protocol of the active provider profile and connect",
		Long: `Pin the active provider profile to one of its preset's endpoint
protocols, or go back to trying all of them with "auto", then connect.

Examples:
  passage protocol TCP:443
  passage protocol auto`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var proto *profile.EndpointProtocol
			if !strings.EqualFold(args[0], "auto") {
				ep, err := profile.ParseEndpointProtocol(args[0])
				if err != nil {
					return err
				}
				proto = &ep
			}
			if err := cli.runningSession(); err != nil {
				return err
			}
			return cli.hostCommand(cmd, func(ctx context.Context, s *session) error {
				return s.coord.SelectProtocol(ctx, proto)
			})
		},
	}
}
