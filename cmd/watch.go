package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/services"
)

var watchPush bool

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild on every file change",
	Long: `Build once, then watch the mapped directories and rebuild incrementally
after every batch of changes. Only pages whose dependencies changed are
rendered again.

Examples:
  home watch                    # Rebuild locally
  home watch --push             # Also push every new revision
  home watch --log-level debug  # Show every batch`,
	RunE: runWatchCommand,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchPush, "push", false, "Push every new revision to the compute authority")
}

func runWatchCommand(cmd *cobra.Command, args []string) error {
	site, err := openSite(cmd)
	if err != nil {
		return err
	}
	defer site.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Watching for changes... (Ctrl+C to stop)")

	return site.Watch(ctx, func(res *services.BuildResult) {
		printRevision(out, res)
		if !watchPush || !res.Build.Changed {
			return
		}
		pushed, err := site.Push(ctx, res.Build.Pak)
		if err != nil {
			site.Logger.Error(ctx, err, "push failed", "revision", res.Build.Pak.ID)
			return
		}
		printPush(out, pushed)
	})
}
