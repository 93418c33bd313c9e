package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yllada/passage/config"
)

// configOutput represents the configuration for JSON.
type configOutput struct {
	Path                string       `json:"path"`
	ResolvesHostname    bool         `json:"resolves_hostname"`
	MasksPrivateData    bool         `json:"masks_private_data"`
	DisconnectsOnSleep  bool         `json:"disconnects_on_sleep"`
	ShowNotifications   bool         `json:"show_notifications"`
	AutoReconnect       bool         `json:"auto_reconnect"`
	TrustedPollInterval string       `json:"trusted_poll_interval"`
	LogLevel            string       `json:"log_level"`
	Health              healthOutput `json:"health"`
}

type healthOutput struct {
	CheckInterval        string   `json:"check_interval"`
	FailureThreshold     int      `json:"failure_threshold"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts"`
	TestHosts            []string `json:"test_hosts"`
}

func newConfigOutput(cfg *config.Config) configOutput {
	return configOutput{
		Path:                cfg.Path(),
		ResolvesHostname:    cfg.ResolvesHostname,
		MasksPrivateData:    cfg.MasksPrivateData,
		DisconnectsOnSleep:  cfg.DisconnectsOnSleep,
		ShowNotifications:   cfg.ShowNotifications,
		AutoReconnect:       cfg.AutoReconnect,
		TrustedPollInterval: cfg.TrustedPollInterval.String(),
		LogLevel:            cfg.LogLevel,
		Health: healthOutput{
			CheckInterval:        cfg.Health.CheckInterval.String(),
			FailureThreshold:     cfg.Health.FailureThreshold,
			MaxReconnectAttempts: cfg.Health.MaxReconnectAttempts,
			TestHosts:            cfg.Health.TestHosts,
		},
	}
}

// newConfigCmd creates the config command group.
func (cli *CLI) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change preferences",
		Long: `Show or change the preferences stored in ~/.config/passage/config.yaml.

Settings:
  resolves_hostname      use pool hostnames instead of shipped addresses
  masks_private_data     redact addresses and the username in the tunnel log
  disconnects_on_sleep   disconnect when the system suspends
  show_notifications     desktop notifications on connection changes
  auto_reconnect         reconnect when health checks fail
  trusted_poll_interval  how often the Wi-Fi network is checked
  log_level              debug, info, warn or error`,
	}

	cmd.AddCommand(
		cli.newConfigShowCmd(),
		cli.newConfigSetCmd(),
	)

	return cmd
}

func (cli *CLI) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(cli.Config)
			if err != nil {
				return err
			}
			return cli.printer(cmd).print(newConfigOutput(cli.Config), func(w io.Writer) {
				fmt.Fprintf(w, "# %s\n", cli.Config.Path())
				_, _ = w.Write(data)
			})
		},
	}
}

func (cli *CLI) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a preference",
		Long: `Change a preference.

Examples:
  passage config set resolves_hostname false
  passage config set trusted_poll_interval 30s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := cli.Config.Set(key, value); err != nil {
				return err
			}

			// Tunnel preferences go through the coordinator, which saves them.
			switch key {
			case "resolves_hostname", "masks_private_data":
				coord, err := cli.coordinator()
				if err != nil {
					return err
				}
				if err := coord.SetPreferences(cmd.Context(), tunnelPreferences(cli.Config)); err != nil {
					return err
				}
			default:
				if err := cli.Config.Save(); err != nil {
					return err
				}
			}

			return cli.printer(cmd).print(newConfigOutput(cli.Config), func(w io.Writer) {
				fmt.Fprintf(w, "%s = %s\n", key, value)
			})
		},
	}
}
