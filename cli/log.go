package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
)

// newLogCmd creates the log command.
func (cli *CLI) newLogCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the OpenVPN output of the last session",
		Long: `Print the OpenVPN output recorded in the tunnel debug log. By default
only the most recent session is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(cli.dir, common.DebugLogFileName)
			data, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				cli.printer(cmd).notice("No tunnel log yet.")
				return nil
			}
			if err != nil {
				return err
			}
			if !all {
				data = lastSession(data)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Print every recorded session")

	return cmd
}

// lastSession returns the log after the last session marker.
func lastSession(data []byte) []byte {
	marker := []byte(common.SessionMarker + "\n")
	if i := bytes.LastIndex(data, marker); i >= 0 {
		return data[i+len(marker):]
	}
	return data
}
