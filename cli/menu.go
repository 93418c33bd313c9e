package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/tui"
)

// newMenuCmd creates the menu command.
func (cli *CLI) newMenuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Open the interactive terminal menu",
		Long: `Open the interactive menu: pick a profile with the arrow keys and
press enter to connect or disconnect it. The tunnel is disconnected when
the menu exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.runningSession(); err != nil {
				return err
			}
			ctx := cmd.Context()

			// The menu owns the terminal; log to the file only.
			common.GetLogger().SetConsole(false)
			defer common.GetLogger().SetConsole(true)

			s, err := cli.startSession(ctx, nil)
			if err != nil {
				return err
			}
			defer s.close()

			runErr := tui.Run(ctx, s.coord, s.store)
			s.drain()
			if err := s.shutdown(io.Discard); err != nil {
				common.LogWarn("Failed to stop tunnel: %v", err)
			}
			return runErr
		},
	}
}
