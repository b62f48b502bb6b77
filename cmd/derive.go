package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/services"
)

var (
	deriveAccept string
	deriveOutput string
)

// deriveCmd represents the derive command
var deriveCmd = &cobra.Command{
	Use:   "derive <route>",
	Short: "Resolve one route of the current revision",
	Long: `Resolve a route the way the site would serve it: a page body, an inline
asset, a content-negotiated redirect or a derivation computed through the
cache. The source tree is built first, incrementally.

Examples:
  home derive /                              # Print the home page
  home derive /img/cat~3f2a.webp -o cat.webp # Write a derived image
  home derive /img/cat.png --accept image/avif`,
	Args: cobra.ExactArgs(1),
	RunE: runDeriveCommand,
}

func init() {
	rootCmd.AddCommand(deriveCmd)

	deriveCmd.Flags().StringVar(&deriveAccept, "accept", "", "Accept header used for content negotiation")
	deriveCmd.Flags().StringVarP(&deriveOutput, "output", "o", "", "Write the body to this file instead of stdout")
}

func runDeriveCommand(cmd *cobra.Command, args []string) error {
	site, err := openSite(cmd)
	if err != nil {
		return err
	}
	defer site.Close()

	ctx := cmd.Context()
	res, err := site.Build(ctx, services.BuildOptions{})
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	served, err := site.Serve(ctx, res.Revision, pak.Route(args[0]), deriveAccept)
	if err != nil {
		return err
	}
	if !served.Redirect.IsEmpty() {
		fmt.Fprintf(cmd.OutOrStdout(), "redirect %s -> %s\n", served.Route, served.Redirect)
		return nil
	}

	if deriveOutput == "" {
		_, err = cmd.OutOrStdout().Write(served.Bytes)
		return err
	}
	if err := os.WriteFile(deriveOutput, served.Bytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", deriveOutput, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %d bytes)\n", deriveOutput, served.ContentType, len(served.Bytes))

	return nil
}
