package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/services"
)

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push [revision-id]",
	Short: "Upload a stored revision to the compute authority",
	Long: `Upload the inputs the authority is missing, then the revision itself.

Without an argument the latest stored revision is pushed. Inputs whose bytes
on disk no longer match the revision are refused.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPushCommand,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPushCommand(cmd *cobra.Command, args []string) error {
	site, err := openSite(cmd)
	if err != nil {
		return err
	}
	defer site.Close()

	ctx := cmd.Context()
	var p *pak.Pak
	if len(args) == 1 {
		p, err = site.Revisions.LoadPak(ctx, pak.RevisionID(args[0]))
	} else {
		p, err = site.Revisions.LoadLatest(ctx)
	}
	if err != nil {
		return fmt.Errorf("loading revision: %w", err)
	}

	res, err := site.Push(ctx, p)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	printPush(cmd.OutOrStdout(), res)

	return nil
}

func printPush(w io.Writer, res *services.PushResult) {
	fmt.Fprintf(w, "pushed %s: %d of %d inputs uploaded, %s sent\n",
		res.Revision, res.Uploaded, res.Inputs, humanize.Bytes(uint64(res.Bytes)))
}
