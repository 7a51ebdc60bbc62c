package config

import (
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/network"
	"github.com/nao1215/marketcrawler/internal/session"
	"github.com/nao1215/marketcrawler/internal/state"
)

// Core kinds.
const (
	// CoreLocal prompts an operator on the terminal.
	CoreLocal = "local"
	// CoreRedis pops markets and cookies from Redis.
	CoreRedis = "redis"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "marketcrawler"

	// DefaultBudget is the rate budget policy.
	DefaultBudget = string(budget.PolicySimple)

	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	DefaultTorProxyAddress = network.DefaultTorProxyAddress

	// DefaultI2PProxyAddress is the HTTP proxy of a local I2P router.
	DefaultI2PProxyAddress = network.DefaultI2PProxyAddress

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = session.DefaultTimeout

	// DefaultTorStartupTimeout bounds the embedded Tor bootstrap.
	DefaultTorStartupTimeout = network.DefaultTorStartupTimeout

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = session.DefaultMaxBodySize

	// DefaultRedisAddr is the address of the Redis core.
	DefaultRedisAddr = "127.0.0.1:6379"

	// DefaultPlansDir is where plans are looked up, relative to the working directory.
	DefaultPlansDir = "plans"
)

// Config holds all configuration options for marketcrawler.
// It is populated from CLI flags and the config file and passed down
// explicitly rather than read from global state.
//
// Design decision: a single flat struct, as the number of options stays
// manageable. Per-market overrides live in MarketConfigs and are applied
// with ForMarket.
type Config struct {
	// Budget is the rate budget policy ("simple" or "logarithmic").
	Budget string

	// MinConnections and MaxConnections bound the concurrent fetches.
	MinConnections int
	MaxConnections int

	// MinDelay and MaxDelay bound the wait before each request.
	MinDelay time.Duration
	MaxDelay time.Duration

	// WindowMin and WindowMax bound the category crawl window.
	WindowMin int
	WindowMax int

	// MaxRescans bounds the passes over a category that keeps yielding new
	// listings. Zero means unbounded.
	MaxRescans int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// Domain overrides the plan domain of every market, e.g. for a mirror.
	Domain string

	// Suffix is appended to every cleaned URL when the plan sets none.
	Suffix string

	// Headers are sent with every request.
	Headers map[string]string

	// IgnorePatterns and FollowPatterns restrict discovered URLs.
	IgnorePatterns []string
	FollowPatterns []string

	// TorProxyAddress is the Tor SOCKS5 proxy in "host:port" form.
	TorProxyAddress string

	// UseExternalTor disables the embedded Tor daemon.
	UseExternalTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// I2PProxyAddress is the I2P HTTP proxy in "host:port" form. Empty
	// disables the I2P network.
	I2PProxyAddress string

	// PlansDir holds <market>.yaml plans.
	PlansDir string

	// DataDir holds per-market state, cookies and diagnostic dumps.
	DataDir string

	// DBDir holds the SQLite database.
	DBDir string

	// Core selects where markets and cookies come from.
	Core string

	// RedisAddr, RedisPassword and RedisDB configure the Redis core.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CrawlerID is stamped on every recorded outcome. Empty generates one.
	CrawlerID string

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBodySize limits how many body bytes are read.
	MaxBodySize int64

	// JSONReport and MarkdownReport select the summary format. Mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile receives the summaries instead of stdout.
	ReportFile string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the explicit config file path.
	ConfigFilePath string

	// MarketConfigs holds the overrides loaded from the config file.
	MarketConfigs *File
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	limits := budget.DefaultLimits()
	return &Config{
		Budget:            DefaultBudget,
		MinConnections:    limits.MinConnections,
		MaxConnections:    limits.MaxConnections,
		MinDelay:          limits.MinDelay,
		MaxDelay:          limits.MaxDelay,
		WindowMin:         state.DefaultWindowMin,
		WindowMax:         state.DefaultWindowMax,
		Timeout:           DefaultTimeout,
		TorProxyAddress:   DefaultTorProxyAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
		I2PProxyAddress:   DefaultI2PProxyAddress,
		PlansDir:          DefaultPlansDir,
		DataDir:           XDGDataDir(),
		DBDir:             XDGDataDir(),
		Core:              CoreLocal,
		RedisAddr:         DefaultRedisAddr,
		UserAgent:         session.DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
	}
}

// XDGDataDir returns the XDG data directory for marketcrawler.
// On Linux: ~/.local/share/marketcrawler
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for marketcrawler.
// On Linux: ~/.config/marketcrawler
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DiagnosticsDir returns where rejected responses are dumped.
func (c *Config) DiagnosticsDir() string {
	return filepath.Join(c.DataDir, "diagnostics")
}

// Limits returns the budget bounds.
func (c *Config) Limits() budget.Limits {
	return budget.Limits{
		MinConnections: c.MinConnections,
		MaxConnections: c.MaxConnections,
		MinDelay:       c.MinDelay,
		MaxDelay:       c.MaxDelay,
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if !slices.Contains(budget.Policies(), c.Budget) {
		return ErrUnknownBudget
	}
	if c.MinConnections < 1 || c.MaxConnections < c.MinConnections {
		return ErrInvalidConnections
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return ErrInvalidDelay
	}
	if c.WindowMin < 1 || c.WindowMax < c.WindowMin {
		return ErrInvalidWindow
	}
	if c.MaxRescans < 0 {
		return ErrInvalidMaxRescans
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if err := validateDomain(c.Domain); err != nil {
		return err
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.Core != CoreLocal && c.Core != CoreRedis {
		return ErrUnknownCore
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return nil
	}
	u, err := url.Parse(domain)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidDomain
	}
	if strings.HasSuffix(strings.ToLower(u.Hostname()), ".onion") && !network.IsValidV3Address(u.Hostname()) {
		return ErrInvalidOnionDomain
	}
	return nil
}

// ForMarket returns a copy of the configuration with the config file
// overrides for market applied. Only fields set in the file override.
func (c *Config) ForMarket(market string) *Config {
	out := *c
	out.Headers = cloneMap(c.Headers)
	if c.MarketConfigs == nil {
		return &out
	}

	mc := c.MarketConfigs.MarketConfig(market)
	if mc.Budget != "" {
		out.Budget = mc.Budget
	}
	if mc.MinConnections != 0 {
		out.MinConnections = mc.MinConnections
	}
	if mc.MaxConnections != 0 {
		out.MaxConnections = mc.MaxConnections
	}
	if mc.MinDelay != 0 {
		out.MinDelay = mc.MinDelay
	}
	if mc.MaxDelay != 0 {
		out.MaxDelay = mc.MaxDelay
	}
	if mc.WindowMin != 0 {
		out.WindowMin = mc.WindowMin
	}
	if mc.WindowMax != 0 {
		out.WindowMax = mc.WindowMax
	}
	if mc.Suffix != "" {
		out.Suffix = mc.Suffix
	}
	if mc.Domain != "" {
		out.Domain = mc.Domain
	}
	if mc.UserAgent != "" {
		out.UserAgent = mc.UserAgent
	}
	for k, v := range mc.Headers {
		if out.Headers == nil {
			out.Headers = make(map[string]string)
		}
		out.Headers[k] = v
	}
	if len(mc.IgnorePatterns) > 0 {
		out.IgnorePatterns = mc.IgnorePatterns
	}
	if len(mc.FollowPatterns) > 0 {
		out.FollowPatterns = mc.FollowPatterns
	}
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
