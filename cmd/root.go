// Package cmd provides the command-line interface for home.
//
// Configuration is read, in increasing order of precedence, from defaults,
// a YAML file (.home.yml, HOME_CONFIG_FILE or --config), HOME_<SECTION>_<KEY>
// environment variables and command-line flags.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fahadfarid28/home-sub000/internal/config"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/services"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "home",
	Short: "Incremental site builder with a content-addressed derivation cache",
	Long: `home turns a tree of pages, templates and media into immutable revisions.

Each build only rehashes files whose size or modification time changed, and
media derivations (resized bitmaps, transcoded video, rendered diagrams) are
computed once by a compute authority and cached by content address.

Quick Start:
  home build                  Build a revision of the mapped source tree
  home watch                  Rebuild on every file change
  home derive /style~1a2b.css Serve one route of the latest revision
  home push                   Upload the latest revision to the authority
  home authority              Run a compute authority`,
	SilenceUsage: true,
}

// Execute runs the root command until it completes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .home.yml, can also use HOME_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("state-dir", ".home", "directory holding revisions, media props and cached objects")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("build.state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
}

// initConfig picks the config file: --config first, then HOME_CONFIG_FILE,
// then .home.yml in the working directory. A missing file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("HOME_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".home")
	}
	config.Bind(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// openSite loads the configuration and wires a Site from it. The caller
// closes the site.
func openSite(cmd *cobra.Command, opts ...services.Option) (*services.Site, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	return services.NewSite(cmd.Context(), cfg, logger, opts...)
}
