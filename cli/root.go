// Package cli provides the command-line interface for passage.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/config"
	"github.com/yllada/passage/keyring"
	"github.com/yllada/passage/profile"
)

// CLI holds the application state for the CLI.
type CLI struct {
	Config  *config.Config
	Secrets *keyring.Store
	rootCmd *cobra.Command
	version VersionInfo

	dir   string
	store *profile.Store

	// Terminal input for credential prompts.
	in     io.Reader
	reader *bufio.Reader

	// Flags
	verboseFlag bool
	outputFlag  string
}

// New creates a new CLI instance.
func New(info VersionInfo) *CLI {
	cli := &CLI{
		version: info,
		in:      os.Stdin,
	}

	cli.rootCmd = &cobra.Command{
		Use:   "passage [command]",
		Short: "Passage - OpenVPN connection manager",
		Long: `Passage manages OpenVPN connection profiles and drives the tunnel.

Profiles come in two kinds:
  host      a user-supplied .ovpn file
  provider  a server pool from a provider infrastructure file in
            ~/.config/passage/providers/<name>.yaml

Toggling a profile connects or disconnects it. Run 'passage menu' for
the interactive terminal menu.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.initialize(cmd)
		},
	}

	// Global flags
	cli.rootCmd.PersistentFlags().BoolVarP(&cli.verboseFlag, "verbose", "v", false, "Enable verbose output")
	cli.rootCmd.PersistentFlags().StringVarP(&cli.outputFlag, "output", "o", "text", "Output format (text, json)")

	cli.addCommands()

	return cli
}

// addCommands adds all subcommands to the root command.
func (cli *CLI) addCommands() {
	cli.rootCmd.AddCommand(
		cli.newVersionCmd(),
		cli.newProfileCmd(),
		cli.newCredentialsCmd(),
		cli.newToggleCmd(),
		cli.newReconnectCmd(),
		cli.newStatusCmd(),
		cli.newPoolCmd(),
		cli.newProtocolCmd(),
		cli.newConfigCmd(),
		cli.newLogCmd(),
		cli.newMenuCmd(),
	)
}

// initialize loads configuration and sets the log level.
func (cli *CLI) initialize(cmd *cobra.Command) error {
	if err := validateFormat(cli.outputFlag); err != nil {
		return err
	}

	dir, err := common.GetConfigDir()
	if err != nil {
		return err
	}
	cli.dir = dir

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.Config = cfg

	level := common.ParseLevel(cfg.LogLevel)
	if cli.verboseFlag {
		level = common.LevelDebug
	}
	common.GetLogger().SetLevel(level)
	return nil
}

// profiles opens the profile store on first use.
func (cli *CLI) profiles() (*profile.Store, error) {
	if cli.store != nil {
		return cli.store, nil
	}
	if cli.Secrets == nil {
		cli.Secrets = keyring.New(cli.dir)
		common.LogDebug("Using %s credential store", cli.Secrets.Backend())
	}
	store, err := profile.Open(cli.dir, cli.Secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles: %w", err)
	}
	cli.store = store
	return store, nil
}

// printer returns a printer for the selected output format.
func (cli *CLI) printer(cmd *cobra.Command) printer {
	return printer{
		json:   cli.outputFlag == formatJSON,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
}

// Execute runs the CLI.
func (cli *CLI) Execute(ctx context.Context) error {
	defer cli.close()
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) close() {
	if cli.store == nil {
		return
	}
	if err := cli.store.Close(); err != nil {
		common.LogWarn("Failed to close profile store: %v", err)
	}
	cli.store = nil
}
