package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/marketcrawler/internal/session"
	"github.com/nao1215/marketcrawler/internal/validator"
)

// diagnosticsFile is the name of the dump written for a rejected response.
const diagnosticsFile = "response.html"

// Fetcher performs requests and re-authenticates a market.
type Fetcher interface {
	Request(ctx context.Context, rawURL string) session.Response
	Auth(ctx context.Context, market string) (bool, error)
}

// Attempt is the kind of request a crawl loop is about to make.
type Attempt int

const (
	// Validated runs validators on the response.
	Validated Attempt = iota
	// BypassOnce returns the response as-is. It is the last attempt.
	BypassOnce
)

// String returns the attempt name.
func (a Attempt) String() string {
	switch a {
	case Validated:
		return "validated"
	case BypassOnce:
		return "bypass"
	default:
		return "unknown"
	}
}

// Crawler fetches URLs of one market.
type Crawler struct {
	market string
	domain *url.URL
	suffix string

	validators     validator.Set
	diagnosticsDir string
	filter         *Filter
	logger         *slog.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithSuffix appends path to every cleaned URL.
func WithSuffix(path string) Option {
	return func(c *Crawler) {
		c.suffix = path
	}
}

// WithValidators sets the validators run on validated attempts.
func WithValidators(set validator.Set) Option {
	return func(c *Crawler) {
		c.validators = set
	}
}

// WithDiagnosticsDir sets where rejected responses are dumped.
// An empty dir disables the dump.
func WithDiagnosticsDir(dir string) Option {
	return func(c *Crawler) {
		c.diagnosticsDir = dir
	}
}

// WithFilter sets the URL filter.
func WithFilter(f *Filter) Option {
	return func(c *Crawler) {
		c.filter = f
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		c.logger = logger
	}
}

// New creates a crawler for market rooted at domain.
func New(market, domain string, opts ...Option) (*Crawler, error) {
	u, err := url.Parse(domain)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}

	c := &Crawler{
		market: market,
		domain: u,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Market returns the market name.
func (c *Crawler) Market() string {
	return c.market
}

// Validators returns the configured validator set.
func (c *Crawler) Validators() validator.Set {
	return c.validators
}

// With returns a copy of c with opts applied.
func (c *Crawler) With(opts ...Option) *Crawler {
	clone := *c
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

// Clean turns a plan or page URL into an absolute request URL.
func (c *Crawler) Clean(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "/")
	rawURL += c.suffix

	ref, err := url.Parse(rawURL)
	if err != nil {
		return c.domain.String() + rawURL
	}
	return c.domain.ResolveReference(ref).String()
}

// Allowed reports whether the filter lets rawURL be crawled.
func (c *Crawler) Allowed(rawURL string) bool {
	if c.filter == nil {
		return true
	}
	return c.filter.Allow(c.Clean(rawURL))
}

// Crawl fetches rawURL through f. With validate set, a response that fails
// validation triggers re-authentication and one unvalidated retry. The
// result is never nil; a *session.NetworkError means the URL could not be
// fetched.
func (c *Crawler) Crawl(ctx context.Context, f Fetcher, rawURL string, validate bool) session.Response {
	target := c.Clean(rawURL)

	attempt := Validated
	if !validate {
		attempt = BypassOnce
	}

	for {
		resp := f.Request(ctx, target)
		if attempt == BypassOnce {
			return resp
		}

		switch r := resp.(type) {
		case *session.NetworkError:
			c.logger.Debug("no response, retrying once", "url", target, "error", r.Cause)
		case *session.Fetched:
			if c.validators.Valid(r) {
				return r
			}
			c.logger.Warn("response failed validation", "market", c.market, "url", target, "status", r.StatusCode)
			c.dump(r)
			if _, err := f.Auth(ctx, c.market); err != nil {
				c.logger.Error("re-authentication failed", "market", c.market, "error", err)
			}
		}

		if ctx.Err() != nil {
			return &session.NetworkError{URL: target, Cause: ctx.Err()}
		}
		attempt = BypassOnce
	}
}

// dump writes the rejected body for an operator to inspect.
func (c *Crawler) dump(r *session.Fetched) {
	if c.diagnosticsDir == "" {
		return
	}
	dir := filepath.Join(c.diagnosticsDir, c.market)
	if err := os.MkdirAll(dir, 0750); err != nil {
		c.logger.Warn("failed to create diagnostics directory", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, diagnosticsFile)
	if err := os.WriteFile(path, r.Body, 0600); err != nil {
		c.logger.Warn("failed to write diagnostics", "path", path, "error", err)
		return
	}
	c.logger.Info("rejected response saved", "path", path)
}
