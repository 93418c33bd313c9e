package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
)

// VersionInfo is injected by main at build time.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// String returns a human-readable version string.
func (v VersionInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", common.AppName, v.Version)
	if v.BuildTime != "" && v.BuildTime != "unknown" {
		fmt.Fprintf(&b, "\n  Build:  %s", v.BuildTime)
	}
	if v.Commit != "" && v.Commit != "unknown" {
		fmt.Fprintf(&b, "\n  Commit: %s", v.Commit)
	}
	fmt.Fprintf(&b, "\n  Go:     %s", v.GoVersion)
	return b.String()
}

// newVersionCmd creates the version command.
func (cli *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print passage version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := cli.version
			info.GoVersion = runtime.Version()
			return cli.printer(cmd).print(info, func(w io.Writer) {
				fmt.Fprintln(w, info.String())
			})
		},
	}
}
