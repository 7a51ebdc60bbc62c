package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/marketcrawler/internal/config"
	applog "github.com/nao1215/marketcrawler/internal/log"
)

// NewRootCmd creates the root command for marketcrawler.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketcrawler",
		Short: "Resumable crawler for darknet marketplaces",
		Long: `marketcrawler crawls darknet marketplaces over Tor and I2P.

Each market is described by a plan (plans/<market>.yaml) naming its
domain, category pages and the elements to extract. Markets and login
cookies come from the terminal or from Redis. Progress is saved after
every page so an interrupted crawl resumes where it stopped.

By default marketcrawler starts an embedded Tor daemon.
Use --external-tor to use an existing Tor proxy instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .marketcrawler in current or home directory)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewStateCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag reads the persistent verbose flag.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return false
	}
	return verbose
}

// getConfigFlag reads the persistent config flag. A command used outside
// the root has none.
func getConfigFlag(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Lookup("config") == nil {
		return "", nil
	}
	return cmd.Flags().GetString("config")
}

// newLogger creates the secure logger shared by every command. Onion
// hosts are masked in messages so logs can be shared.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	return applog.NewSecureLogger(w, verbose, applog.WithOnionMasking(true))
}

// loadMarketConfigs loads the per-market overrides. An explicit path that
// does not exist is an error; otherwise a missing file means no overrides.
func loadMarketConfigs(explicitPath string) (*config.File, error) {
	path := config.FindConfigFile(explicitPath)
	if path == "" {
		if explicitPath != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicitPath)
		}
		return &config.File{Markets: make(map[string]config.MarketConfig)}, nil
	}

	file, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return file, nil
}
