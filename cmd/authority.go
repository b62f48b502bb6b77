package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fahadfarid28/home-sub000/internal/authority"
)

var authorityAddr string

// authorityCmd represents the authority command
var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Run a compute authority",
	Long: `Serve the derivation API: clients push inputs and revisions, request
derivations, and read computed objects back. Derivations run in the
background and survive client disconnects.

The authority keeps its objects in the configured store and requires
compute.url to be empty.

Examples:
  home authority                    # Listen on authority.addr
  home authority --addr :9000       # Override the listen address
  HOME_AUTHORITY_TOKEN=s3cret home authority`,
	RunE: runAuthorityCommand,
}

func init() {
	rootCmd.AddCommand(authorityCmd)

	authorityCmd.Flags().StringVar(&authorityAddr, "addr", "", "Listen address (default authority.addr)")
}

func runAuthorityCommand(cmd *cobra.Command, args []string) error {
	site, err := openSite(cmd)
	if err != nil {
		return err
	}
	defer site.Close()

	if site.LocalAuthority == nil {
		return fmt.Errorf("compute.url is set to %s: an authority cannot forward to another authority", site.Config.Compute.URL)
	}

	addr := site.Config.Authority.Addr
	if authorityAddr != "" {
		addr = authorityAddr
	}

	server := authority.NewServer(site.Logger, site.LocalAuthority, site.Health, site.Registry, authority.ServerConfig{
		Addr:  addr,
		Token: site.Config.Authority.Token,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Compute authority listening on %s\n", addr)

	return server.Start(cmd.Context())
}
