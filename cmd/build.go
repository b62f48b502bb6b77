package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/services"
)

var (
	buildFromScratch bool
	buildPush        bool
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build a revision of the mapped source tree",
	Long: `Build a revision of every file under the configured path mappings.

By default the build starts from the latest stored revision and only rehashes
files whose size or modification time changed since. Unchanged builds reuse
the stored revision.

Examples:
  home build                 # Incremental build from the latest revision
  home build --from-scratch  # Hash every file again
  home build --push          # Upload the revision to the authority afterwards`,
	RunE: runBuildCommand,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildFromScratch, "from-scratch", false, "Ignore the latest stored revision")
	buildCmd.Flags().BoolVar(&buildPush, "push", false, "Push the revision to the compute authority")
}

func runBuildCommand(cmd *cobra.Command, args []string) error {
	site, err := openSite(cmd)
	if err != nil {
		return err
	}
	defer site.Close()

	res, err := site.Build(cmd.Context(), services.BuildOptions{FromScratch: buildFromScratch})
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	printRevision(cmd.OutOrStdout(), res)

	if buildPush {
		pushed, err := site.Push(cmd.Context(), res.Build.Pak)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		printPush(cmd.OutOrStdout(), pushed)
	}

	return nil
}

func printRevision(w io.Writer, res *services.BuildResult) {
	rev := res.Revision
	state := "unchanged"
	if res.Build.Changed {
		state = "new"
	}
	fmt.Fprintf(w, "revision %s (%s): %d inputs, %d pages, %d assets in %s\n",
		rev.Pak.ID, state, len(rev.Pak.Inputs), len(rev.Pages), len(rev.Assets), res.Build.Duration.Round(time.Millisecond))
	if res.Build.Dropped > 0 {
		fmt.Fprintf(w, "  %d files dropped after the drain timeout\n", res.Build.Dropped)
	}
}
