package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

var inspectFormat outputFormat

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:     "inspect [revision-id]",
	Aliases: []string{"ls"},
	Short:   "List stored revisions or show one",
	Long: `Without an argument, list every revision in the local store. With a
revision id (or "latest"), show its inputs.

Examples:
  home inspect                  # List revisions
  home inspect latest           # Inputs of the latest revision
  home inspect 01J... -f json   # One revision as JSON`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspectCommand,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	addFormatFlag(inspectCmd.Flags(), &inspectFormat)
}

// inputSummary is one input as shown by inspect.
type inputSummary struct {
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

func runInspectCommand(cmd *cobra.Command, args []string) error {
	site, err := openSite(cmd)
	if err != nil {
		return err
	}
	defer site.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		entries, err := site.Revisions.List(ctx)
		if err != nil {
			return err
		}
		if inspectFormat == formatJSON {
			return writeJSON(out, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No revisions stored.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REVISION\tSIZE\tLATEST")
		for _, e := range entries {
			latest := ""
			if e.Latest {
				latest = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, humanize.Bytes(uint64(e.Size)), latest)
		}
		return w.Flush()
	}

	var p *pak.Pak
	if args[0] == "latest" {
		p, err = site.Revisions.LoadLatest(ctx)
	} else {
		p, err = site.Revisions.LoadPak(ctx, pak.RevisionID(args[0]))
	}
	if err != nil {
		return err
	}

	paths := p.SortedInputPaths()
	inputs := make([]inputSummary, 0, len(paths))
	var total int64
	for _, ip := range paths {
		in := p.Inputs[ip]
		total += in.Size
		inputs = append(inputs, inputSummary{
			Path:        ip.String(),
			Hash:        in.Hash.String(),
			Size:        in.Size,
			ContentType: in.ContentType,
		})
	}

	if inspectFormat == formatJSON {
		return writeJSON(out, map[string]interface{}{
			"id":     p.ID,
			"title":  p.Config.Title,
			"inputs": inputs,
			"pages":  len(p.Pages),
			"media":  len(p.MediaProps),
		})
	}

	fmt.Fprintf(out, "Revision %s", p.ID)
	if p.Config.Title != "" {
		fmt.Fprintf(out, " (%s)", p.Config.Title)
	}
	fmt.Fprintf(out, "\n  %d inputs, %s, %d pages, %d templates, %d media\n\n",
		len(inputs), humanize.Bytes(uint64(total)), len(p.Pages), len(p.Templates), len(p.MediaProps))

	return printInputs(out, inputs)
}

func printInputs(out io.Writer, inputs []inputSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tTYPE\tHASH")
	for _, in := range inputs {
		hash := in.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", in.Path, humanize.Bytes(uint64(in.Size)), in.ContentType, hash)
	}

	return w.Flush()
}
