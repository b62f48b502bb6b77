package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/version"
)

var (
	versionFormat outputFormat
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for home: version, git commit, build time,
Go version, platform and the derivation pipeline version.

Examples:
  home version               # Show version
  home version --short       # Show version number only
  home version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	addFormatFlag(versionCmd.Flags(), &versionFormat)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	info := version.GetBuildInfo()
	out := cmd.OutOrStdout()

	if versionFormat == formatJSON {
		return writeJSON(out, info)
	}
	if versionShort {
		fmt.Fprintln(out, version.GetShortVersion())
		return nil
	}

	fmt.Fprintf(out, "home %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
	}
	if info.Dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  go:       %s\n", info.GoVersion)
	fmt.Fprintf(out, "  platform: %s\n", info.Platform)
	fmt.Fprintf(out, "  pipeline: %s\n", info.Pipeline)
	if !info.BuildTime.IsZero() {
		fmt.Fprintf(out, "  built:    %s\n", info.BuildTime.Format("2006-01-02 15:04:05 UTC"))
	}

	return nil
}
