package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/config"
	"github.com/nao1215/marketcrawler/internal/core"
	"github.com/nao1215/marketcrawler/internal/crawler"
	"github.com/nao1215/marketcrawler/internal/database"
	"github.com/nao1215/marketcrawler/internal/network"
	"github.com/nao1215/marketcrawler/internal/pipeline"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/report"
	"github.com/nao1215/marketcrawler/internal/session"
	"github.com/nao1215/marketcrawler/internal/state"
	"github.com/nao1215/marketcrawler/internal/strategy"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl markets until the core has none left",
		Long: `Crawl asks the core for a market, loads its plan and crawls it:

1. authenticate with cookies from the core
2. fetch pages discovered earlier but never downloaded
3. walk every category listed in the plan and store new listings

A summary is printed after each market. Crawl stops when the core
returns no market (an empty line on the terminal, or "__stop__" in Redis).

Examples:
  # Prompt for markets on the terminal
  marketcrawler crawl

  # Take markets and cookies from Redis
  marketcrawler crawl --core redis --redis-addr 127.0.0.1:6379

  # Use a running Tor instead of the embedded daemon
  marketcrawler crawl --external-tor 127.0.0.1:9050

  # Adaptive rate and a Markdown summary file
  marketcrawler crawl --budget logarithmic --markdown -o reports/run.md`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	defaults := config.NewConfig()

	// Rate budget flags
	cmd.Flags().StringP("budget", "b", defaults.Budget,
		fmt.Sprintf("Rate budget policy %v", budget.Policies()))
	cmd.Flags().Int("min-connections", defaults.MinConnections, "Minimum concurrent fetches")
	cmd.Flags().Int("max-connections", defaults.MaxConnections, "Maximum concurrent fetches")
	cmd.Flags().Duration("min-delay", defaults.MinDelay, "Minimum delay before each request")
	cmd.Flags().Duration("max-delay", defaults.MaxDelay, "Maximum delay before each request")

	// Category crawl flags
	cmd.Flags().Int("window-min", defaults.WindowMin, "Smallest category crawl window")
	cmd.Flags().Int("window-max", defaults.WindowMax, "Largest category crawl window")
	cmd.Flags().Int("max-rescans", defaults.MaxRescans,
		"Passes over a category per run before giving up (0 = until no new listings)")

	// Request flags
	cmd.Flags().DurationP("timeout", "t", defaults.Timeout, "Timeout for each request")
	cmd.Flags().StringP("domain", "d", "", "Override the plan domain, e.g. to crawl a mirror")
	cmd.Flags().String("suffix", "", "Appended to every URL when the plan sets no path")
	cmd.Flags().String("user-agent", defaults.UserAgent, "User-Agent header")
	cmd.Flags().Int64("max-body-size", defaults.MaxBodySize, "Maximum bytes read from a response body")
	cmd.Flags().String("crawler-id", "", "Identity recorded with every outcome (default: random)")

	// Network flags
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address (e.g., 127.0.0.1:9050)")
	cmd.Flags().DurationP("tor-timeout", "T", defaults.TorStartupTimeout, "Timeout for embedded Tor startup")
	cmd.Flags().String("i2p-proxy", defaults.I2PProxyAddress, "I2P HTTP proxy address (empty disables I2P)")

	// Storage flags
	cmd.Flags().StringP("plans", "p", defaults.PlansDir, "Directory holding <market>.yaml plans")
	cmd.Flags().String("data-dir", defaults.DataDir, "Directory for crawl state, cookies and diagnostics")
	cmd.Flags().String("db-dir", defaults.DBDir, "Directory for the SQLite database")

	// Core flags
	cmd.Flags().String("core", defaults.Core, "Where markets and cookies come from (local or redis)")
	cmd.Flags().String("redis-addr", defaults.RedisAddr, "Redis address for the redis core")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database number")

	// Report flags
	cmd.Flags().BoolP("json", "j", false, "Output JSON summaries (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown summaries (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Write summaries to the specified file path")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runCrawl(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
	if errors.Is(err, context.Canceled) {
		logger.Info("crawl interrupted")
		return nil
	}
	return err
}

// buildConfig creates a Config from the crawl flags and the config file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.Budget, err = flags.GetString("budget"); err != nil {
		return nil, err
	}
	if cfg.MinConnections, err = flags.GetInt("min-connections"); err != nil {
		return nil, err
	}
	if cfg.MaxConnections, err = flags.GetInt("max-connections"); err != nil {
		return nil, err
	}
	if cfg.MinDelay, err = flags.GetDuration("min-delay"); err != nil {
		return nil, err
	}
	if cfg.MaxDelay, err = flags.GetDuration("max-delay"); err != nil {
		return nil, err
	}
	if cfg.WindowMin, err = flags.GetInt("window-min"); err != nil {
		return nil, err
	}
	if cfg.WindowMax, err = flags.GetInt("window-max"); err != nil {
		return nil, err
	}
	if cfg.MaxRescans, err = flags.GetInt("max-rescans"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.Domain, err = flags.GetString("domain"); err != nil {
		return nil, err
	}
	if cfg.Suffix, err = flags.GetString("suffix"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return nil, err
	}
	if cfg.CrawlerID, err = flags.GetString("crawler-id"); err != nil {
		return nil, err
	}

	externalTor, err := flags.GetString("external-tor")
	if err != nil {
		return nil, err
	}
	if externalTor != "" {
		cfg.UseExternalTor = true
		cfg.TorProxyAddress = externalTor
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if cfg.I2PProxyAddress, err = flags.GetString("i2p-proxy"); err != nil {
		return nil, err
	}

	if cfg.PlansDir, err = flags.GetString("plans"); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = flags.GetString("data-dir"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}

	if cfg.Core, err = flags.GetString("core"); err != nil {
		return nil, err
	}
	if cfg.RedisAddr, err = flags.GetString("redis-addr"); err != nil {
		return nil, err
	}
	if cfg.RedisPassword, err = flags.GetString("redis-password"); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = flags.GetInt("redis-db"); err != nil {
		return nil, err
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	if cfg.ConfigFilePath, err = getConfigFlag(cmd); err != nil {
		return nil, err
	}
	if cfg.MarketConfigs, err = loadMarketConfigs(cfg.ConfigFilePath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runCrawl starts the networks and crawls markets until the core has none left.
func runCrawl(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) error {
	registry, stopNetworks, err := buildRegistry(ctx, cfg, out, logger)
	if err != nil {
		return err
	}
	defer stopNetworks()

	return crawl(ctx, cfg, registry, in, out, logger)
}

// crawl wires storage, the core and the report writer around clients and
// runs the market loop.
func crawl(ctx context.Context, cfg *config.Config, clients session.ClientSource, in io.Reader, out io.Writer, logger *slog.Logger) error {
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", db.Path())

	c, closeCore, err := openCore(ctx, cfg, in, out, logger)
	if err != nil {
		return err
	}
	defer closeCore()

	writer, closeWriter, err := newReportWriter(cfg, out)
	if err != nil {
		return err
	}
	defer closeWriter()

	runner := pipeline.NewRunner(c, plan.NewFilePlanner(cfg.PlansDir), newSessionFactory(cfg, clients, db, logger), db,
		pipeline.WithDeps(strategy.Deps{
			DataDir:        cfg.DataDir,
			DiagnosticsDir: cfg.DiagnosticsDir(),
			MaxRescans:     cfg.MaxRescans,
			Out:            out,
			Logger:         logger,
		}),
		pipeline.WithMarketDeps(marketDeps(cfg)),
		pipeline.WithReportWriter(writer),
		pipeline.WithRunnerLogger(logger),
	)

	runs, err := runner.Run(ctx)
	logger.Info("crawl finished", "markets", len(runs))
	return err
}

// marketDeps applies the per-market configuration to the shared settings.
func marketDeps(cfg *config.Config) func(market string, deps strategy.Deps) strategy.Deps {
	return func(market string, deps strategy.Deps) strategy.Deps {
		mc := cfg.ForMarket(market)
		deps.Domain = mc.Domain
		deps.Suffix = mc.Suffix
		deps.Filter = crawler.NewFilter(mc.IgnorePatterns, mc.FollowPatterns)
		deps.StateOptions = append(deps.StateOptions, state.WithWindow(mc.WindowMin, mc.WindowMax))
		return deps
	}
}

// newSessionFactory builds each market's budget and session from its
// configuration. Outcomes are appended to db.
func newSessionFactory(cfg *config.Config, clients session.ClientSource, db budget.OutcomeLog, logger *slog.Logger) pipeline.SessionFactory {
	return func(market string, cookies session.CookieFunc) (pipeline.Session, error) {
		mc := cfg.ForMarket(market)

		policy, err := budget.ParsePolicy(mc.Budget)
		if err != nil {
			return nil, err
		}
		b, err := budget.New(policy,
			budget.WithLimits(mc.Limits()),
			budget.WithOutcomeLog(db),
			budget.WithRequesterID(mc.CrawlerID),
			budget.WithLogger(logger.With("market", market)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create budget: %w", err)
		}

		return session.New(b, clients,
			session.WithCookieSource(cookies),
			session.WithUserAgent(mc.UserAgent),
			session.WithHeaders(mc.Headers),
			session.WithTimeout(mc.Timeout),
			session.WithMaxBodySize(mc.MaxBodySize),
			session.WithLogger(logger.With("market", market)),
		), nil
	}
}

// buildRegistry registers a client for every network. The returned func
// stops the embedded Tor daemon when one was started.
func buildRegistry(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (*network.Registry, func(), error) {
	registry := network.NewRegistry()
	registry.Register(network.KindClearnet, network.NewClearnetHTTPClient(cfg.Timeout))

	if cfg.I2PProxyAddress != "" {
		client, err := network.NewI2PHTTPClient(cfg.I2PProxyAddress, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create I2P client: %w", err)
		}
		registry.Register(network.KindI2P, client)
	}

	if cfg.UseExternalTor {
		client, err := network.NewTorClient(cfg.TorProxyAddress, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
		}
		if status := client.CheckConnection(ctx); status != network.ProxyStatusOK {
			return nil, nil, fmt.Errorf("tor proxy check failed: %s (make sure Tor is running at %s)",
				status, cfg.TorProxyAddress)
		}
		logger.Info("Tor proxy connection verified", "address", cfg.TorProxyAddress)
		registry.Register(network.KindTor, client.HTTPClient())
		return registry, func() {}, nil
	}

	embedded, client, err := startEmbeddedTor(ctx, cfg, out, logger)
	if err != nil {
		return nil, nil, err
	}
	registry.Register(network.KindTor, client.HTTPClient())
	return registry, func() {
		logger.Info("stopping embedded Tor daemon")
		if err := embedded.Stop(); err != nil {
			logger.Error("failed to stop embedded Tor", "error", err)
		}
	}, nil
}

// startEmbeddedTor starts a Tor daemon through tornago and verifies its proxy.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (*network.EmbeddedTor, *network.TorClient, error) {
	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := network.NewEmbeddedTor(network.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embedded.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	logger.Info("embedded Tor daemon started", "socksAddr", embedded.SocksAddr())

	client, err := embedded.TorClient(cfg.Timeout)
	if err != nil {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if status := client.CheckConnection(ctx); status != network.ProxyStatusOK {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, nil, fmt.Errorf("embedded Tor proxy check failed: %s", status)
	}

	fmt.Fprintf(out, "Embedded Tor daemon started. SOCKS proxy: %s\n\n", embedded.SocksAddr())
	return embedded, client, nil
}

// openCore creates the configured core. The returned func releases it.
func openCore(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) (pipeline.Core, func(), error) {
	switch cfg.Core {
	case config.CoreRedis:
		r, err := core.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, core.WithRedisLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return r, func() {
			if err := r.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}, nil
	case config.CoreLocal:
		return core.NewLocal(in, out, cfg.DataDir, core.WithLocalLogger(logger)), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownCore, cfg.Core)
	}
}

// newReportWriter returns the summary writer for the configured format and
// destination. The returned func closes the report file.
func newReportWriter(cfg *config.Config, stdout io.Writer) (report.Writer, func(), error) {
	output := stdout
	closer := func() {}

	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		// Summaries name markets and may carry error text, so owner only.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		output = f
		closer = func() { _ = f.Close() }
	}

	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion())), closer, nil
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(output), closer, nil
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose)), closer, nil
	}
}
